// Package outbox relays events staged by committed purchases to the broker.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
)

const (
	DefaultSchedule  = "@every 2s"
	DefaultBatchSize = 100
)

// Observer is told how each publish attempt went.
type Observer interface {
	Published(topic string)
	Failed(topic string)
}

type Config struct {
	Schedule  string
	BatchSize int
	Timeout   time.Duration // per run
}

// Relay publishes pending outbox records in id order. A failed publish ends
// the run so later records never overtake it; the next tick retries it.
type Relay struct {
	store     interfaces.OutboxStore
	publisher interfaces.EventPublisher
	observer  Observer
	logger    *zap.Logger
	cfg       Config

	cron *cron.Cron
	mu   sync.Mutex // one run at a time
}

func NewRelay(store interfaces.OutboxStore, publisher interfaces.EventPublisher, observer Observer, logger *zap.Logger, cfg Config) *Relay {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		observer:  observer,
		logger:    logger,
		cfg:       cfg,
	}
}

// RunOnce relays one batch and returns how many records were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.store.FetchPendingEvents(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range pending {
		if err := r.publisher.Publish(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
			if r.observer != nil {
				r.observer.Failed(rec.Topic)
			}
			return sent, err
		}
		if r.observer != nil {
			r.observer.Published(rec.Topic)
		}
		if err := r.store.MarkEventSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	sent, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Warn("outbox relay run failed", zap.Int("sent", sent), zap.Error(err))
		return
	}
	if sent > 0 {
		r.logger.Debug("outbox relay run", zap.Int("sent", sent))
	}
}

// Start schedules the relay. It returns an error for an invalid schedule.
func (r *Relay) Start() error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(r.cfg.Schedule, r.tick); err != nil {
		return err
	}
	r.cron = c
	r.logger.Info("starting outbox relay", zap.String("schedule", r.cfg.Schedule), zap.Int("batch_size", r.cfg.BatchSize))
	c.Start()
	return nil
}

// Stop waits for a running batch to finish.
func (r *Relay) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("outbox relay stopped")
}
