package orders

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agromart/agromart-backend/internal/ledger"
	"github.com/agromart/agromart-backend/pkg/db"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/outbox"
	"github.com/agromart/agromart-backend/pkg/outbox/payloads"
	"github.com/agromart/agromart-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxOrderNumberAttempts = 3
	orderNumberAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ledgerRecorder interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input ledger.RecordLedgerEventInput) (*models.LedgerEvent, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
	Summarize(ctx context.Context, orderID uuid.UUID) (*ledger.Summary, error)
}

type transitionMetrics interface {
	IncTransition(from, to, role string)
}

// Service is the authoritative owner of the order lifecycle.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	Detail(ctx context.Context, actor Actor, id uuid.UUID) (*OrderDetail, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	History(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
	ApplyPaymentEvent(ctx context.Context, input PaymentEventInput) (*ApplyResult, error)
	MarkRefunded(ctx context.Context, input MarkRefundedInput) (*models.Order, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Ledger  ledgerRecorder
	Prices  PriceLookup
	Metrics transitionMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	ledger  ledgerRecorder
	prices  PriceLookup
	metrics transitionMetrics
	logg    *logger.Logger
	now     func() time.Time
}

type noopMetrics struct{}

func (noopMetrics) IncTransition(string, string, string) {}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger recorder required")
	}
	if params.Prices == nil {
		return nil, fmt.Errorf("price lookup required")
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		ledger:  params.Ledger,
		prices:  params.Prices,
		metrics: metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.Buyer.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Buyer.Role != enums.ActorRoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can place orders")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	if input.DeliveryFeeCents < 0 || input.TaxCents < 0 || input.DiscountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fees, tax and discount must not be negative")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyLKR
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}
	method := input.PaymentMethod
	if method == "" {
		method = enums.PaymentMethodPayHere
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment method %q", method))
	}

	quantities, productIDs, err := mergeItemQuantities(input.Items)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.prices.LookupProducts(ctx, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup product prices")
	}

	order := &models.Order{
		BuyerID:          input.Buyer.UserID,
		Status:           enums.OrderStatusPending,
		PaymentMethod:    method,
		PaymentStatus:    enums.PaymentStatusUnpaid,
		Currency:         currency,
		DeliveryFeeCents: input.DeliveryFeeCents,
		TaxCents:         input.TaxCents,
		DiscountCents:    input.DiscountCents,
		Version:          1,
	}
	for _, productID := range productIDs {
		snapshot, ok := snapshots[productID]
		if !ok || !snapshot.Active {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
				WithDetails(map[string]any{"product_id": productID})
		}
		if snapshot.Currency != "" && snapshot.Currency != currency {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is priced in a different currency").
				WithDetails(map[string]any{"product_id": productID, "currency": snapshot.Currency})
		}
		qty := quantities[productID]
		item := models.OrderItem{
			ProductID:      productID,
			FarmerID:       snapshot.FarmerID,
			Name:           snapshot.Name,
			Unit:           snapshot.Unit,
			Quantity:       qty,
			UnitPriceCents: snapshot.UnitPriceCents,
			SubtotalCents:  int64(qty) * snapshot.UnitPriceCents,
		}
		order.Items = append(order.Items, item)
		order.SubtotalCents += item.SubtotalCents
		order.FarmerIDs = order.FarmerIDs.AppendUnique(snapshot.FarmerID)
	}
	order.TotalCents = order.SubtotalCents + order.DeliveryFeeCents + order.TaxCents - order.DiscountCents
	if order.TotalCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds order value")
	}

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		now := s.now()
		number, err := newOrderNumber(now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		order.ID = uuid.New()
		order.OrderNumber = number
		order.GatewayOrderID = number
		order.CreatedAt = now
		for i := range order.Items {
			order.Items[i].ID = uuid.New()
			order.Items[i].CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}

		lastErr = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if err := repo.Create(ctx, order); err != nil {
				return err
			}
			if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
				OrderID:   order.ID,
				Status:    enums.OrderStatusPending,
				ActorID:   input.Buyer.userRef(),
				ActorRole: input.Buyer.Role,
				Note:      optionalString(input.Note),
				CreatedAt: now,
			}); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, order, enums.EventOrderCreated, enums.AggregateOrder, input.Buyer, payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				FarmerIDs:   []uuid.UUID(order.FarmerIDs),
				TotalCents:  order.TotalCents,
				Currency:    string(order.Currency),
			}); err != nil {
				return err
			}
			return s.emitNotification(ctx, tx, order, input.Buyer, enums.NotificationTypeOrderUpdate,
				fmt.Sprintf("New order %s is waiting for confirmation", order.OrderNumber), []uuid.UUID(order.FarmerIDs))
		})
		if lastErr == nil {
			return order, nil
		}
		if !db.IsUniqueViolation(lastErr, "") {
			return nil, asServiceError(lastErr, "create order")
		}
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "could not allocate a unique order number")
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return order, nil
}

func (s *service) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order id required")
	}
	order, err := s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return order, nil
}

func (s *service) Detail(ctx context.Context, actor Actor, id uuid.UUID) (*OrderDetail, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(order, actor); err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order history")
	}
	detail := &OrderDetail{
		Order:   order,
		History: history,
		Allowed: AllowedTargets(order.Status, actor.Role),
	}
	// Farmers see fulfillment only; the money trail belongs to the buyer.
	if actor.Role == enums.ActorRoleFarmer {
		return detail, nil
	}
	if detail.Ledger, err = s.ledger.ListByOrder(ctx, order.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order ledger")
	}
	if detail.Money, err = s.ledger.Summarize(ctx, order.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "summarize order ledger")
	}
	return detail, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	query := listOrdersParams{Status: params.Status, Limit: params.Limit}
	switch params.Actor.Role {
	case enums.ActorRoleBuyer:
		query.BuyerID = params.Actor.UserID
	case enums.ActorRoleFarmer:
		query.FarmerID = params.Actor.UserID
	case enums.ActorRoleAdmin:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot list orders")
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	cursor := ""
	if next != nil {
		cursor = next.Encode()
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) History(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order history")
	}
	return history, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.transition(ctx, input, nil)
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason required")
	}
	return s.transition(ctx, TransitionInput{
		OrderID: input.OrderID,
		Actor:   input.Actor,
		Target:  enums.OrderStatusCancelled,
		Note:    reason,
	}, map[string]any{"cancel_reason": reason})
}

func (s *service) transition(ctx context.Context, input TransitionInput, extra map[string]any) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if err := validateUserActor(input.Actor); err != nil {
		return nil, err
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", input.Target))
	}

	var (
		updated *models.Order
		from    enums.OrderStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}
		if err := authorize(order, input.Actor); err != nil {
			return err
		}
		if err := CheckTransition(order.Status, input.Target, input.Actor.Role); err != nil {
			return err
		}
		from = order.Status
		updated, err = s.applyTransition(ctx, tx, repo, order, input.Actor, input.Target, input.Note, extra)
		return err
	})
	if err != nil {
		return nil, asServiceError(err, "transition order")
	}
	s.metrics.IncTransition(string(from), string(input.Target), string(input.Actor.Role))
	return updated, nil
}

// applyTransition persists an already validated status change together with
// its history row and side-effect instructions.
func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, actor Actor, target enums.OrderStatus, note string, extra map[string]any) (*models.Order, error) {
	now := s.now()
	from := order.Status

	updates := map[string]any{"status": target}
	if column := timestampColumn(target); column != "" && !hasTimestamp(order, target) {
		updates[column] = now
	}
	var adjustment enums.InventoryAdjustment
	switch target {
	case enums.OrderStatusConfirmed:
		if !order.InventoryDecremented {
			updates["inventory_decremented"] = true
			adjustment = enums.InventoryAdjustmentDecrement
		}
	case enums.OrderStatusCancelled:
		if order.InventoryDecremented {
			updates["inventory_decremented"] = false
			adjustment = enums.InventoryAdjustmentRestock
		}
	}
	for key, value := range extra {
		updates[key] = value
	}

	if err := repo.UpdateWithVersion(ctx, order.ID, order.Version, updates); err != nil {
		return nil, err
	}
	if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:   order.ID,
		Status:    target,
		ActorID:   actor.userRef(),
		ActorRole: actor.Role,
		Note:      optionalString(note),
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	updated, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	if err := s.emit(ctx, tx, updated, enums.EventOrderStatusChanged, enums.AggregateOrder, actor, payloads.OrderStatusChangedEvent{
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		From:        from,
		To:          target,
		ActorRole:   actor.Role,
		Note:        note,
		ChangedAt:   now,
	}); err != nil {
		return nil, err
	}

	notificationType := enums.NotificationTypeOrderUpdate
	if target == enums.OrderStatusRefunded {
		notificationType = enums.NotificationTypeRefundUpdate
	}
	if err := s.emitNotification(ctx, tx, updated, actor, notificationType,
		statusMessage(updated.OrderNumber, target), recipients(updated)); err != nil {
		return nil, err
	}

	if adjustment != "" {
		lines := make([]payloads.InventoryLine, 0, len(updated.Items))
		for _, item := range updated.Items {
			lines = append(lines, payloads.InventoryLine{
				ProductID: item.ProductID,
				FarmerID:  item.FarmerID,
				Quantity:  item.Quantity,
			})
		}
		if err := s.emit(ctx, tx, updated, enums.EventInventoryAdjustment, enums.AggregateOrder, actor, payloads.InventoryAdjustmentEvent{
			OrderID:    updated.ID,
			Adjustment: adjustment,
			Lines:      lines,
		}); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (s *service) ApplyPaymentEvent(ctx context.Context, input PaymentEventInput) (*ApplyResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var target enums.PaymentStatus
	var ledgerType enums.LedgerEventType
	var eventType enums.OutboxEventType
	switch input.Outcome {
	case PaymentOutcomeConfirmed:
		target, ledgerType, eventType = enums.PaymentStatusPaid, enums.LedgerEventTypePaymentConfirmed, enums.EventPaymentConfirmed
	case PaymentOutcomeFailed:
		target, ledgerType, eventType = enums.PaymentStatusFailed, enums.LedgerEventTypePaymentFailed, enums.EventPaymentFailed
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment outcome %q", input.Outcome))
	}

	system := SystemActor()
	var result *ApplyResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}
		if paymentAlreadyReflected(order.PaymentStatus, target) {
			s.warnOnSecondPayment(ctx, order, input)
			result = &ApplyResult{Order: order, Duplicate: true}
			return nil
		}

		now := s.now()
		updates := map[string]any{"payment_status": target}
		if input.GatewayPaymentID != "" {
			updates["transaction_id"] = input.GatewayPaymentID
		}
		if target == enums.PaymentStatusPaid && order.PaidAt == nil {
			updates["paid_at"] = now
		}
		if err := repo.UpdateWithVersion(ctx, order.ID, order.Version, updates); err != nil {
			return err
		}
		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:   order.ID,
			Status:    order.Status,
			ActorRole: system.Role,
			Note:      optionalString(paymentNote(input)),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		amount := input.AmountCents
		if amount == 0 {
			amount = order.TotalCents
		}
		currency := input.Currency
		if currency == "" {
			currency = order.Currency
		}
		metadata, err := json.Marshal(map[string]any{
			"status_code": input.StatusCode,
			"method":      input.Method,
			"message":     input.Message,
		})
		if err != nil {
			return err
		}
		if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:          order.ID,
			BuyerID:          order.BuyerID,
			Type:             ledgerType,
			AmountCents:      amount,
			Currency:         currency,
			GatewayPaymentID: input.GatewayPaymentID,
			Metadata:         metadata,
		}); err != nil {
			return err
		}

		updated, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, tx, updated, eventType, enums.AggregateOrder, system, payloads.PaymentStatusEvent{
			OrderID:          updated.ID,
			OrderNumber:      updated.OrderNumber,
			PaymentStatus:    target,
			GatewayPaymentID: input.GatewayPaymentID,
			AmountCents:      amount,
			Currency:         string(currency),
		}); err != nil {
			return err
		}
		if err := s.emitNotification(ctx, tx, updated, system, enums.NotificationTypePaymentUpdate,
			paymentMessage(updated.OrderNumber, target), recipients(updated)); err != nil {
			return err
		}
		result = &ApplyResult{Order: updated}
		return nil
	})
	if err != nil {
		return nil, asServiceError(err, "apply payment event")
	}
	return result, nil
}

func (s *service) MarkRefunded(ctx context.Context, input MarkRefundedInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	actor := input.Actor
	if actor.Role == "" {
		actor = SystemActor()
	}

	var (
		updated *models.Order
		from    enums.OrderStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}
		if err := CheckRefundable(order); err != nil {
			return err
		}
		from = order.Status

		extra := map[string]any{"payment_status": enums.PaymentStatusRefunded}
		if reason := strings.TrimSpace(input.Reason); reason != "" {
			extra["refund_reason"] = reason
		}
		updated, err = s.applyTransition(ctx, tx, repo, order, actor, enums.OrderStatusRefunded, input.Reason, extra)
		if err != nil {
			return err
		}

		metadata, err := json.Marshal(map[string]any{
			"refund_id": input.RefundID,
			"reason":    input.Reason,
		})
		if err != nil {
			return err
		}
		paymentID := ""
		if order.TransactionID != nil {
			paymentID = *order.TransactionID
		}
		if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:          order.ID,
			BuyerID:          order.BuyerID,
			ActorID:          actor.userRef(),
			Type:             enums.LedgerEventTypeRefund,
			AmountCents:      order.TotalCents,
			Currency:         order.Currency,
			GatewayPaymentID: paymentID,
			Metadata:         metadata,
		}); err != nil {
			return err
		}

		refundedAt := s.now()
		if updated.RefundedAt != nil {
			refundedAt = *updated.RefundedAt
		}
		return s.emit(ctx, tx, updated, enums.EventOrderRefunded, enums.AggregateOrder, actor, payloads.OrderRefundedEvent{
			OrderID:     updated.ID,
			OrderNumber: updated.OrderNumber,
			AmountCents: updated.TotalCents,
			Currency:    string(updated.Currency),
			Reason:      input.Reason,
			RefundedAt:  refundedAt,
		})
	})
	if err != nil {
		return nil, asServiceError(err, "mark order refunded")
	}
	s.metrics.IncTransition(string(from), string(enums.OrderStatusRefunded), string(enums.ActorRoleSystem))
	return updated, nil
}

// CheckRefundable reports whether a refund may be issued for the order. It is
// shared by the refund processor (before calling the gateway) and MarkRefunded.
func CheckRefundable(order *models.Order) error {
	if order.Status == enums.OrderStatusRefunded || order.PaymentStatus == enums.PaymentStatusRefunded {
		return pkgerrors.New(pkgerrors.CodeConflict, "order has already been refunded")
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only paid orders can be refunded").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}
	return CheckTransition(order.Status, enums.OrderStatusRefunded, enums.ActorRoleSystem)
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, order *models.Order, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, actor Actor, data any) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   order.ID,
		OrderingKey:   order.ID.String(),
		Actor:         actor.outboxRef(),
		Data:          data,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue outbox event")
	}
	return nil
}

func (s *service) emitNotification(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, kind enums.NotificationType, message string, to []uuid.UUID) error {
	return s.emit(ctx, tx, order, enums.EventNotificationRequested, enums.AggregateNotification, actor, payloads.NotificationRequestedEvent{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Type:         kind,
		RecipientIDs: to,
		Status:       order.Status,
		Message:      message,
	})
}

func (s *service) warnOnSecondPayment(ctx context.Context, order *models.Order, input PaymentEventInput) {
	if s.logg == nil || input.Outcome != PaymentOutcomeConfirmed || order.TransactionID == nil {
		return
	}
	if input.GatewayPaymentID == "" || input.GatewayPaymentID == *order.TransactionID {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":           order.ID.String(),
		"payment_id":         input.GatewayPaymentID,
		"applied_payment_id": *order.TransactionID,
	})
	s.logg.Warn(logCtx, "second successful payment reported for a paid order")
}

// paymentAlreadyReflected is true when applying target would be a no-op or a
// downgrade: repeats, failures after success, and anything after a refund.
func paymentAlreadyReflected(current, target enums.PaymentStatus) bool {
	switch {
	case current == target:
		return true
	case current == enums.PaymentStatusRefunded:
		return true
	case current == enums.PaymentStatusPaid && target == enums.PaymentStatusFailed:
		return true
	}
	return false
}

func authorize(order *models.Order, actor Actor) error {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return nil
	case enums.ActorRoleBuyer:
		if order.BuyerID == actor.UserID {
			return nil
		}
	case enums.ActorRoleFarmer:
		if order.HasFarmer(actor.UserID) {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to actor")
}

func validateUserActor(actor Actor) error {
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.Role.IsUserRole() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "role cannot change order status")
	}
	return nil
}

func mergeItemQuantities(items []CreateOrderItemInput) (map[uuid.UUID]int, []uuid.UUID, error) {
	quantities := make(map[uuid.UUID]int, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if item.Quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if _, seen := quantities[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	return quantities, ids, nil
}

func hasTimestamp(order *models.Order, status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusConfirmed:
		return order.ConfirmedAt != nil
	case enums.OrderStatusShipped:
		return order.ShippedAt != nil
	case enums.OrderStatusDelivered:
		return order.DeliveredAt != nil
	case enums.OrderStatusCancelled:
		return order.CancelledAt != nil
	case enums.OrderStatusRefunded:
		return order.RefundedAt != nil
	}
	return false
}

func recipients(order *models.Order) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(order.FarmerIDs)+1)
	out = append(out, order.BuyerID)
	for _, farmerID := range order.FarmerIDs {
		if farmerID != order.BuyerID {
			out = append(out, farmerID)
		}
	}
	return out
}

func statusMessage(orderNumber string, status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusConfirmed:
		return fmt.Sprintf("Order %s was confirmed", orderNumber)
	case enums.OrderStatusPreparing:
		return fmt.Sprintf("Order %s is being prepared", orderNumber)
	case enums.OrderStatusShipped:
		return fmt.Sprintf("Order %s has been shipped", orderNumber)
	case enums.OrderStatusDelivered:
		return fmt.Sprintf("Order %s was delivered", orderNumber)
	case enums.OrderStatusCancelled:
		return fmt.Sprintf("Order %s was cancelled", orderNumber)
	case enums.OrderStatusRefunded:
		return fmt.Sprintf("Order %s was refunded", orderNumber)
	}
	return fmt.Sprintf("Order %s is now %s", orderNumber, status)
}

func paymentMessage(orderNumber string, status enums.PaymentStatus) string {
	if status == enums.PaymentStatusPaid {
		return fmt.Sprintf("Payment received for order %s", orderNumber)
	}
	return fmt.Sprintf("Payment for order %s failed", orderNumber)
}

func paymentNote(input PaymentEventInput) string {
	note := string(input.Outcome)
	if input.GatewayPaymentID != "" {
		note += " (payment " + input.GatewayPaymentID + ")"
	}
	if input.Message != "" {
		note += ": " + input.Message
	}
	return note
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

// asServiceError keeps typed errors and maps persistence failures. Losing the
// version race or the history sequence race are both reported as conflicts.
func asServiceError(err error, action string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, ErrVersionConflict) || db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order was modified concurrently; retry")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

// newOrderNumber returns AGM-YYYYMMDD-XXXXXX. The alphabet has 32 symbols so
// every random byte maps without bias.
func newOrderNumber(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return fmt.Sprintf("AGM-%s-%s", now.UTC().Format("20060102"), buf), nil
}
