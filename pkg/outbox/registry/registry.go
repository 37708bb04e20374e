// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads before publishing.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/agromart/agromart-backend/pkg/config"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/agromart/agromart-backend/pkg/outbox"
	"github.com/agromart/agromart-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing entry for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

type topicKind int

const (
	orderTopic topicKind = iota
	notificationTopic
	inventoryTopic
)

func payloadOf[T any]() func() any {
	return func() any { return new(T) }
}

// routes lists every event the relay knows how to publish.
var routes = []struct {
	event     enums.OutboxEventType
	aggregate enums.OutboxAggregateType
	topic     topicKind
	payload   func() any
}{
	{enums.EventOrderCreated, enums.AggregateOrder, orderTopic, payloadOf[payloads.OrderCreatedEvent]()},
	{enums.EventOrderStatusChanged, enums.AggregateOrder, orderTopic, payloadOf[payloads.OrderStatusChangedEvent]()},
	{enums.EventPaymentConfirmed, enums.AggregateOrder, orderTopic, payloadOf[payloads.PaymentStatusEvent]()},
	{enums.EventPaymentFailed, enums.AggregateOrder, orderTopic, payloadOf[payloads.PaymentStatusEvent]()},
	{enums.EventOrderRefunded, enums.AggregateOrder, orderTopic, payloadOf[payloads.OrderRefundedEvent]()},
	{enums.EventCardSaved, enums.AggregateCardToken, orderTopic, payloadOf[payloads.CardEvent]()},
	{enums.EventCardDeleted, enums.AggregateCardToken, orderTopic, payloadOf[payloads.CardEvent]()},
	{enums.EventNotificationRequested, enums.AggregateNotification, notificationTopic, payloadOf[payloads.NotificationRequestedEvent]()},
	{enums.EventInventoryAdjustment, enums.AggregateOrder, inventoryTopic, payloadOf[payloads.InventoryAdjustmentEvent]()},
}

// EventRegistry resolves outbox rows against the route table.
type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
	topics []string
}

// NewEventRegistry binds the route table to the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	names := map[topicKind]string{
		orderTopic:        cfg.OrdersTopic,
		notificationTopic: cfg.NotificationTopic,
		inventoryTopic:    cfg.InventoryTopic,
	}
	var missing []error
	for kind, label := range map[topicKind]string{orderTopic: "orders", notificationTopic: "notification", inventoryTopic: "inventory"} {
		if names[kind] == "" {
			missing = append(missing, fmt.Errorf("%s topic is required", label))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	reg := &EventRegistry{byType: make(map[enums.OutboxEventType]EventDescriptor, len(routes))}
	seen := map[string]bool{}
	for _, rt := range routes {
		topic := names[rt.topic]
		reg.byType[rt.event] = EventDescriptor{
			EventType:     rt.event,
			AggregateType: rt.aggregate,
			Topic:         topic,
			newPayload:    rt.payload,
		}
		if !seen[topic] {
			seen[topic] = true
			reg.topics = append(reg.topics, topic)
		}
	}
	sort.Strings(reg.topics)
	return reg, nil
}

// Topics returns the distinct topic names in sorted order.
func (r *EventRegistry) Topics() []string {
	return append([]string(nil), r.topics...)
}

// Resolve checks the row against its route and decodes the envelope and
// payload. Every failure is non-retryable: the stored bytes will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[event.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanent("aggregate mismatch: %s events belong to %s, got %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, permanent("decode envelope: %w", err)
	}
	if envelope.Version < 1 || envelope.Version > outbox.EnvelopeVersion {
		return nil, permanent("unsupported envelope version %d", envelope.Version)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("payload missing for %s", event.EventType)
	}

	payload := desc.newPayload()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
