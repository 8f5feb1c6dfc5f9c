// Package logpub is the publisher used when no broker is configured: each
// event is written to the log instead of Kafka.
package logpub

import (
	"context"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
)

type Publisher struct {
	logger *zap.Logger
}

func NewPublisher(logger *zap.Logger) *Publisher {
	return &Publisher{logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.logger.Info("event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", payload),
	)
	return nil
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
