package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
)

// Publisher writes outbox records to Kafka. The topic is taken per message,
// so one writer serves every topic the outbox carries.
type Publisher struct {
	writer *kafka.Writer
}

type Config struct {
	Brokers      []string
	Compression  string // none, gzip, snappy, lz4 or zstd
	BatchTimeout time.Duration
}

func NewPublisher(cfg Config) (*Publisher, error) {
	codec, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Compression:            codec,
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish sends one message keyed by key, so events of one listing stay in
// one partition and keep their order.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// ParseCompression maps a config value to a kafka-go codec. The gzip, snappy
// and zstd codecs come from klauspost/compress, lz4 from pierrec/lz4.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown kafka compression %q", name)
	}
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
