package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/agromart/agromart-backend/pkg/logger"
)

// EnvelopeVersion is the newest envelope layout Emit writes.
const EnvelopeVersion = 1

// ActorRef is who caused the event. UserID is nil for gateway callbacks.
type ActorRef struct {
	UserID *uuid.UUID      `json:"userId,omitempty"`
	Role   enums.ActorRole `json:"role"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// as the message body. Data holds the event-specific payload.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DomainEvent is what a service asks to be published after its transaction
// commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	// OrderingKey defaults to the aggregate id.
	OrderingKey string
	Actor       *ActorRef
	Data        any
	Version     int
	OccurredAt  time.Time
}

// Emitter queues events inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit stores event in tx, so it exists exactly when the state change does.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	row, eventID, err := s.buildRow(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return fmt.Errorf("insert outbox %s: %w", event.EventType, err)
	}

	if s.logg != nil && ctx != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":     eventID,
			"event_type":   row.EventType,
			"aggregate_id": row.AggregateID.String(),
			"ordering_key": row.OrderingKey,
		}), "outbox event queued")
	}
	return nil
}

// buildRow wraps the event data in a PayloadEnvelope and fills defaults.
func (s *Service) buildRow(event DomainEvent) (models.OutboxEvent, string, error) {
	var problems []error
	if !event.EventType.IsValid() {
		problems = append(problems, fmt.Errorf("invalid outbox event type %q", event.EventType))
	}
	if !event.AggregateType.IsValid() {
		problems = append(problems, fmt.Errorf("invalid outbox aggregate type %q", event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		problems = append(problems, errors.New("aggregate id required"))
	}
	if len(problems) > 0 {
		return models.OutboxEvent{}, "", errors.Join(problems...)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, "", fmt.Errorf("encode %s data: %w", event.EventType, err)
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	occurred = occurred.UTC()
	version := event.Version
	if version <= 0 {
		version = EnvelopeVersion
	}
	key := event.OrderingKey
	if key == "" {
		key = event.AggregateID.String()
	}

	envelope := PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurred,
		Actor:      event.Actor,
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, "", fmt.Errorf("encode envelope: %w", err)
	}

	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		OrderingKey:   key,
		Payload:       payload,
		CreatedAt:     occurred,
	}, envelope.EventID, nil
}
