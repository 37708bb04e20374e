package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service defines operations that record money movements per order.
type Service interface {
	// RecordEvent appends a ledger row. When tx is non-nil the row commits with
	// the caller's transaction.
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
	Summarize(ctx context.Context, orderID uuid.UUID) (*Summary, error)
}

// Summary nets an order's captured money against what was returned.
type Summary struct {
	CapturedCents int64 `json:"captured_cents"`
	RefundedCents int64 `json:"refunded_cents"`
	NetCents      int64 `json:"net_cents"`
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	OrderID          uuid.UUID             `json:"order_id"`
	BuyerID          uuid.UUID             `json:"buyer_id"`
	ActorID          *uuid.UUID            `json:"actor_id,omitempty"`
	Type             enums.LedgerEventType `json:"type"`
	AmountCents      int64                 `json:"amount_cents"`
	Currency         enums.Currency        `json:"currency"`
	GatewayPaymentID string                `json:"gateway_payment_id,omitempty"`
	Metadata         json.RawMessage       `json:"metadata,omitempty"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if input.BuyerID == uuid.Nil {
		return nil, fmt.Errorf("buyer id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.AmountCents < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	if !input.Currency.IsValid() {
		return nil, fmt.Errorf("invalid currency %q", input.Currency)
	}

	event := &models.LedgerEvent{
		ID:          uuid.New(),
		OrderID:     input.OrderID,
		BuyerID:     input.BuyerID,
		ActorID:     input.ActorID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Metadata:    input.Metadata,
	}
	if input.GatewayPaymentID != "" {
		paymentID := input.GatewayPaymentID
		event.GatewayPaymentID = &paymentID
	}

	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}

func (s *service) Summarize(ctx context.Context, orderID uuid.UUID) (*Summary, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	totals, err := s.repo.SumByType(ctx, orderID)
	if err != nil {
		return nil, err
	}
	captured := totals[enums.LedgerEventTypePaymentConfirmed]
	refunded := totals[enums.LedgerEventTypeRefund]
	return &Summary{CapturedCents: captured, RefundedCents: refunded, NetCents: captured - refunded}, nil
}
