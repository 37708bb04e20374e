// Package relay moves committed outbox rows onto Pub/Sub. Each batch is
// claimed with SKIP LOCKED so several relays can run side by side.
package relay

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"gorm.io/gorm"

	"github.com/agromart/agromart-backend/pkg/config"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/outbox/registry"
	"github.com/google/uuid"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	publishTimeout      = 15 * time.Second
	maxBackoff          = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

type transactor interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Metrics counts relay outcomes per event type.
type Metrics interface {
	IncPublished(eventType string)
	IncFailed(eventType string)
	IncDLQ(eventType, reason string)
}

// Params wires a Relay.
type Params struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         transactor
	Broker     Broker
	Repository outboxRepository
	DLQ        dlqRepository
	Registry   resolver
	Metrics    Metrics
}

type Relay struct {
	logg         *logger.Logger
	db           transactor
	broker       Broker
	repo         outboxRepository
	dlq          dlqRepository
	registry     resolver
	metrics      Metrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Broker == nil:
		return nil, errors.New("broker is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	r := &Relay{
		logg:         p.Logger,
		db:           p.DB,
		broker:       p.Broker,
		repo:         p.Repository,
		dlq:          p.DLQ,
		registry:     p.Registry,
		metrics:      p.Metrics,
		batchSize:    p.Outbox.BatchSize,
		maxAttempts:  p.Outbox.MaxAttempts,
		pollInterval: time.Duration(p.Outbox.PollIntervalMS) * time.Millisecond,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	return r, nil
}

// Run drains the outbox until ctx ends. A full batch is followed immediately
// by the next one; an empty poll waits one interval; a failed batch backs off
// exponentially up to maxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return errors.Join(errors.New("database not ready"), err)
	}
	if err := r.broker.Ping(ctx); err != nil {
		return errors.Join(errors.New("broker not ready"), err)
	}

	backoff := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		n, err := r.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			backoff = min(backoff*2, maxBackoff)
			wait = backoff
		case n >= r.batchSize:
			backoff = r.pollInterval
			continue
		default:
			backoff = r.pollInterval
			wait = r.pollInterval
		}
		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type noopMetrics struct{}

func (noopMetrics) IncPublished(string)   {}
func (noopMetrics) IncFailed(string)      {}
func (noopMetrics) IncDLQ(string, string) {}
