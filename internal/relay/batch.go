package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/agromart/agromart-backend/pkg/outbox"
	"github.com/agromart/agromart-backend/pkg/outbox/registry"
)

// pending is a row whose message has been handed to the broker.
type pending struct {
	event  models.OutboxEvent
	topic  string
	pub    Publisher
	key    string
	result Result
}

// processBatch claims up to batchSize rows, queues every message before
// waiting on any of them so the client can batch per topic, then records each
// outcome. Rows stay locked until the transaction commits.
func (r *Relay) processBatch(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(events)
		if claimed == 0 {
			return nil
		}

		publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		queued := make([]pending, 0, len(events))
		for _, event := range events {
			p, err := r.enqueue(publishCtx, event)
			if err != nil {
				if err := r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err); err != nil {
					return err
				}
				continue
			}
			queued = append(queued, p)
		}

		resumed := map[string]bool{}
		for _, p := range queued {
			_, pubErr := p.result.Get(publishCtx)
			if pubErr == nil {
				if err := r.repo.MarkPublishedTx(tx, p.event.ID); err != nil {
					return fmt.Errorf("mark published %s: %w", p.event.ID, err)
				}
				r.metrics.IncPublished(string(p.event.EventType))
				r.logg.Debug(r.logg.WithFields(ctx, fields(p.event, p.topic)), "outbox event published")
				continue
			}
			if p.key != "" && !resumed[p.key] {
				p.pub.ResumePublish(p.key)
				resumed[p.key] = true
			}
			if err := r.recordFailure(ctx, tx, p, pubErr); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

func (r *Relay) enqueue(ctx context.Context, event models.OutboxEvent) (pending, error) {
	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return pending{}, err
	}
	topic := resolved.Descriptor.Topic
	pub := r.broker.Publisher(topic)
	if pub == nil {
		return pending{}, fmt.Errorf("no publisher for topic %q", topic)
	}

	key := orderingKey(event)
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"schema_version": strconv.Itoa(resolved.Envelope.Version),
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if result == nil {
		return pending{}, fmt.Errorf("publisher for %q returned no result", topic)
	}
	return pending{event: event, topic: topic, pub: pub, key: key, result: result}, nil
}

// recordFailure counts a failed delivery. Rows that exhaust their attempts or
// fail permanently go to the dead letter table. Later messages on a failed
// ordering key are rejected by the client too and are retried the same way.
func (r *Relay) recordFailure(ctx context.Context, tx *gorm.DB, p pending, pubErr error) error {
	var permanent registry.NonRetryableError
	if errors.As(pubErr, &permanent) {
		return r.deadLetter(ctx, tx, p.event, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	attempt := p.event.AttemptCount + 1
	if attempt >= r.maxAttempts {
		return r.deadLetter(ctx, tx, p.event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("gave up after %d attempts: %w", attempt, pubErr))
	}

	logCtx := r.logg.WithFields(ctx, fields(p.event, p.topic))
	logCtx = r.logg.WithFields(logCtx, map[string]any{"attempt": attempt, "error": pubErr.Error()})
	r.logg.Warn(logCtx, "outbox publish failed, will retry")
	r.metrics.IncFailed(string(p.event.EventType))
	if err := r.repo.MarkFailedTx(tx, p.event.ID, pubErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", p.event.ID, err)
	}
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	logCtx := r.logg.WithFields(ctx, fields(event, ""))
	logCtx = r.logg.WithFields(logCtx, map[string]any{"error_reason": reason, "error": cause.Error()})
	r.logg.Warn(logCtx, "outbox event dead-lettered")

	entry := outbox.NewDLQEntry(event, reason, cause, r.now())
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.repo.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	r.metrics.IncDLQ(string(event.EventType), reason.String())
	return nil
}

// orderingKey keeps one order's events in sequence on the topic.
func orderingKey(event models.OutboxEvent) string {
	if event.OrderingKey != "" {
		return event.OrderingKey
	}
	return event.AggregateID.String()
}

func fields(event models.OutboxEvent, topic string) map[string]any {
	f := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if topic != "" {
		f["topic"] = topic
	}
	return f
}
