package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agromart/agromart-backend/internal/orders"
	payherewebhook "github.com/agromart/agromart-backend/internal/webhooks/payhere"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/agromart/agromart-backend/pkg/redis"
	"github.com/google/uuid"
)

const defaultChargeLockTTL = time.Minute

type orderStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ApplyPaymentEvent(ctx context.Context, input orders.PaymentEventInput) (*orders.ApplyResult, error)
}

type gateway interface {
	CreatePaymentRequest(orderID string, amount any, currency string) (*payhere.PaymentRequest, error)
	StartPreapproval(profile payhere.BuyerProfile, orderID string) (*payhere.Preapproval, error)
	ChargeToken(ctx context.Context, req payhere.ChargeRequest) (*payhere.ChargeResult, error)
	RetrievePayment(ctx context.Context, orderID string) ([]payhere.PaymentRecord, error)
}

type cardTokens interface {
	Token(ctx context.Context, buyerID, cardID uuid.UUID) (string, error)
}

type dedupGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ServiceParams wires payment initiation.
type ServiceParams struct {
	Orders        orderStore
	Gateway       gateway
	Cards         cardTokens
	Guard         dedupGuard
	Locker        redis.Locker
	ChargeLockTTL time.Duration
	Logger        *logger.Logger
}

// Service signs checkouts and preapprovals and charges saved cards.
type Service struct {
	orders  orderStore
	gateway gateway
	cards   cardTokens
	guard   dedupGuard
	locker  redis.Locker
	lockTTL time.Duration
	logg    *logger.Logger
}

// NewService requires every collaborator and defaults the charge lock TTL.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Cards == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "card vault required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge locker required")
	}
	ttl := params.ChargeLockTTL
	if ttl <= 0 {
		ttl = defaultChargeLockTTL
	}
	return &Service{
		orders:  params.Orders,
		gateway: params.Gateway,
		cards:   params.Cards,
		guard:   params.Guard,
		locker:  params.Locker,
		lockTTL: ttl,
		logg:    params.Logger,
	}, nil
}

// CreatePayment signs a checkout payload for an unpaid order owned by the
// caller. The gateway order id, not the internal id, is what PayHere sees.
func (s *Service) CreatePayment(ctx context.Context, input CreatePaymentInput) (*payhere.PaymentRequest, error) {
	missing := []string{}
	if input.OrderID == uuid.Nil {
		missing = append(missing, "order_id")
	}
	if strings.TrimSpace(input.Amount) == "" {
		missing = append(missing, "amount")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "missing required fields").
			WithDetails(map[string]any{"missing": missing})
	}

	order, err := s.payableOrder(ctx, input.OrderID, input.Actor)
	if err != nil {
		return nil, err
	}

	cents, err := payhere.ParseCents(input.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	if cents != order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount does not match order total").
			WithDetails(map[string]any{"expected": payhere.FormatCents(order.TotalCents)})
	}
	if currency != string(order.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency does not match order").
			WithDetails(map[string]any{"expected": order.Currency})
	}

	req, err := s.gateway.CreatePaymentRequest(order.GatewayOrderID, payhere.FormatCents(order.TotalCents), currency)
	if err != nil {
		return nil, err
	}
	s.info(ctx, order.ID, "payment request signed")
	return req, nil
}

// Preapprove builds the card registration form for the calling buyer.
func (s *Service) Preapprove(ctx context.Context, input PreapproveInput) (*payhere.Preapproval, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Actor.Role != enums.ActorRoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can save cards")
	}
	if claimed := strings.TrimSpace(input.UserID); claimed != "" && claimed != input.Actor.UserID.String() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cards can only be saved for the signed-in buyer")
	}
	reference := strings.TrimSpace(input.OrderID)
	if reference == "" {
		reference = "CARD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	}
	return s.gateway.StartPreapproval(payhere.BuyerProfile{
		UserID:    input.Actor.UserID.String(),
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Email:     strings.TrimSpace(input.Email),
		Phone:     strings.TrimSpace(input.Phone),
		Address:   strings.TrimSpace(input.Address),
		City:      strings.TrimSpace(input.City),
		Country:   strings.TrimSpace(input.Country),
	}, reference)
}

// ChargeCard charges a saved card for the full order total. A success is
// applied through the same dedup key as the notify callback, so whichever
// arrives second is a no-op.
func (s *Service) ChargeCard(ctx context.Context, input ChargeInput) (*ChargeOutcome, error) {
	if input.OrderID == uuid.Nil || input.CardID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and card id are required")
	}
	order, err := s.payableOrder(ctx, input.OrderID, input.Actor)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("%s orders cannot be paid", order.Status))
	}
	token, err := s.cards.Token(ctx, input.Actor.UserID, input.CardID)
	if err != nil {
		return nil, err
	}

	lockName := "charge:" + order.ID.String()
	lockToken, acquired, err := s.locker.AcquireLock(ctx, lockName, s.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire charge lock")
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a payment for this order is already in progress")
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockName, lockToken); err != nil {
			s.warn(ctx, fmt.Sprintf("release charge lock %s: %v", lockName, err))
		}
	}()

	result, err := s.gateway.ChargeToken(ctx, payhere.ChargeRequest{
		Token:       token,
		OrderID:     order.GatewayOrderID,
		Amount:      payhere.FormatCents(order.TotalCents),
		Currency:    string(order.Currency),
		Description: "Agromart order " + order.OrderNumber,
		Custom1:     order.ID.String(),
	})
	if err != nil {
		// A timed-out charge may still have captured funds; the notify callback settles it.
		s.warn(s.withOrder(ctx, order.ID), fmt.Sprintf("card charge failed: %v", err))
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payhere charge failed")
	}

	outcome := &ChargeOutcome{
		Order:         order,
		PaymentID:     result.PaymentID,
		StatusCode:    result.StatusCode,
		StatusMessage: result.StatusMessage,
	}
	switch {
	case result.Succeeded():
	case result.StatusCode == payhere.StatusPending:
		return outcome, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "card charge was declined").
			WithDetails(map[string]any{"status_code": int(result.StatusCode), "status_message": result.StatusMessage})
	}

	key := payherewebhook.DedupKey(order.GatewayOrderID, payhere.StatusSuccess)
	seen, err := s.guard.CheckAndMark(ctx, key)
	if err != nil {
		s.warn(ctx, fmt.Sprintf("payment dedup unavailable: %v", err))
	}
	if seen {
		current, err := s.orders.Get(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		outcome.Order = current
		outcome.Duplicate = true
		return outcome, nil
	}

	applied, err := s.orders.ApplyPaymentEvent(ctx, orders.PaymentEventInput{
		OrderID:          order.ID,
		Outcome:          orders.PaymentOutcomeConfirmed,
		GatewayPaymentID: result.PaymentID,
		AmountCents:      order.TotalCents,
		Currency:         order.Currency,
		StatusCode:       int(result.StatusCode),
		Method:           "token",
		Message:          result.StatusMessage,
	})
	if err != nil {
		if delErr := s.guard.Delete(ctx, key); delErr != nil {
			s.warn(ctx, fmt.Sprintf("release payment dedup key: %v", delErr))
		}
		return nil, err
	}
	outcome.Order = applied.Order
	outcome.Duplicate = applied.Duplicate
	s.info(ctx, order.ID, "card charge captured")
	return outcome, nil
}

// Status reports the gateway's payment records for an order. Buyers may only
// query their own orders.
func (s *Service) Status(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*StatusResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case enums.ActorRoleAdmin:
	case enums.ActorRoleBuyer:
		if order.BuyerID != actor.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to actor")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot query payment status")
	}

	records, err := s.gateway.RetrievePayment(ctx, order.GatewayOrderID)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payhere status query failed")
	}
	return &StatusResult{Order: order, Payments: records}, nil
}

func (s *Service) payableOrder(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*models.Order, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if actor.Role != enums.ActorRoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can pay for orders")
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to actor")
	}
	switch order.PaymentStatus {
	case enums.PaymentStatusPaid, enums.PaymentStatusRefunded:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order has already been paid").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}
	return order, nil
}

func (s *Service) withOrder(ctx context.Context, orderID uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithOrderID(ctx, orderID.String())
}

func (s *Service) info(ctx context.Context, orderID uuid.UUID, msg string) {
	if s.logg != nil {
		s.logg.Info(s.withOrder(ctx, orderID), msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}
