package payherewebhook

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agromart/agromart-backend/internal/cards"
	"github.com/agromart/agromart-backend/internal/orders"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/metrics"
	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/google/uuid"
)

type orderApplier interface {
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	ApplyPaymentEvent(ctx context.Context, input orders.PaymentEventInput) (*orders.ApplyResult, error)
}

type cardSaver interface {
	Save(ctx context.Context, buyerID uuid.UUID, payload cards.TokenPayload) (*models.CardToken, error)
}

type dedupGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type webhookMetrics interface {
	IncWebhook(outcome string)
}

// ServiceParams wires the notify callback verifier.
type ServiceParams struct {
	MerchantID string
	Signer     payhere.Signer
	Orders     orderApplier
	Cards      cardSaver
	Guard      dedupGuard
	Metrics    webhookMetrics
	Logger     *logger.Logger
}

// Outcome describes what a notification did. Status is one of the
// metrics.Webhook* values.
type Outcome struct {
	Status         string
	GatewayOrderID string
	StatusCode     payhere.StatusCode
	OrderID        uuid.UUID
	CardID         uuid.UUID
}

// Accepted reports whether the notification was authentic and consistent.
func (o *Outcome) Accepted() bool {
	switch o.Status {
	case metrics.WebhookAccepted, metrics.WebhookDuplicate, metrics.WebhookPending, metrics.WebhookChargeback:
		return true
	}
	return false
}

// Service verifies PayHere notify callbacks and applies their outcome.
type Service struct {
	merchantID string
	signer     payhere.Signer
	orders     orderApplier
	cards      cardSaver
	guard      dedupGuard
	metrics    webhookMetrics
	logg       *logger.Logger
}

type noopMetrics struct{}

func (noopMetrics) IncWebhook(string) {}

// NewService checks the merchant id and required collaborators.
func NewService(params ServiceParams) (*Service, error) {
	if strings.TrimSpace(params.MerchantID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "payhere merchant id required")
	}
	if params.Signer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signer required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Cards == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "card vault required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	m := params.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Service{
		merchantID: strings.TrimSpace(params.MerchantID),
		signer:     params.Signer,
		orders:     params.Orders,
		cards:      params.Cards,
		guard:      params.Guard,
		metrics:    m,
		logg:       params.Logger,
	}, nil
}

// HandleNotification verifies a notify callback and applies it. The returned
// outcome is always non-nil so callers can record it even on error.
func (s *Service) HandleNotification(ctx context.Context, n payhere.Notification) (*Outcome, error) {
	outcome := &Outcome{Status: metrics.WebhookRejected, GatewayOrderID: n.OrderID}
	if s.logg != nil {
		ctx = s.logg.WithGatewayOrderID(ctx, n.OrderID)
	}

	err := s.handle(ctx, n, outcome)
	s.metrics.IncWebhook(outcome.Status)
	s.record(ctx, n, outcome, err)
	return outcome, err
}

func (s *Service) handle(ctx context.Context, n payhere.Notification, outcome *Outcome) error {
	if missing := missingFields(n); len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification is missing required fields").
			WithDetails(map[string]any{"missing": missing})
	}

	if !payhere.VerifyNotify(s.signer, n.MD5Sig, n.MerchantID, n.OrderID, n.Amount, n.Currency, n.StatusCode) {
		outcome.Status = metrics.WebhookSignatureMismatch
		return pkgerrors.New(pkgerrors.CodeSignatureMismatch, "notification signature mismatch")
	}
	if n.MerchantID != s.merchantID {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification is for another merchant")
	}
	code, ok := payhere.ParseStatusCode(n.StatusCode)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status code %q", n.StatusCode))
	}
	outcome.StatusCode = code

	if n.IsPreapproval() {
		if err := s.saveCard(ctx, n, code, outcome); err != nil {
			return err
		}
		if isZeroAmount(n.Amount) {
			outcome.Status = metrics.WebhookAccepted
			return nil
		}
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, n.OrderID)
	if err != nil {
		return err
	}
	outcome.OrderID = order.ID

	expected := payhere.FormatCents(order.TotalCents)
	if n.Amount != expected || n.Currency != string(order.Currency) {
		outcome.Status = metrics.WebhookAmountMismatch
		return pkgerrors.New(pkgerrors.CodeAmountMismatch, "notification amount does not match order total").
			WithDetails(map[string]any{"gateway_order_id": n.OrderID, "order_id": order.ID})
	}

	var paymentOutcome orders.PaymentOutcome
	switch code {
	case payhere.StatusSuccess:
		paymentOutcome = orders.PaymentOutcomeConfirmed
	case payhere.StatusCanceled, payhere.StatusFailed:
		paymentOutcome = orders.PaymentOutcomeFailed
	case payhere.StatusPending:
		outcome.Status = metrics.WebhookPending
		return nil
	case payhere.StatusChargeback:
		outcome.Status = metrics.WebhookChargeback
		return nil
	}

	key := DedupKey(n.OrderID, code)
	seen, err := s.guard.CheckAndMark(ctx, key)
	if err != nil {
		// The locked order update below is idempotent on its own.
		s.warn(ctx, fmt.Sprintf("webhook dedup unavailable: %v", err))
	}
	if seen {
		outcome.Status = metrics.WebhookDuplicate
		return nil
	}

	amountCents, err := payhere.ParseCents(n.Amount)
	if err != nil {
		s.forget(ctx, key)
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification amount")
	}
	result, err := s.orders.ApplyPaymentEvent(ctx, orders.PaymentEventInput{
		OrderID:          order.ID,
		Outcome:          paymentOutcome,
		GatewayPaymentID: n.PaymentID,
		AmountCents:      amountCents,
		Currency:         enums.Currency(n.Currency),
		StatusCode:       int(code),
		Method:           n.Method,
		Message:          n.StatusMessage,
	})
	if err != nil {
		s.forget(ctx, key)
		outcome.Status = metrics.WebhookError
		return err
	}
	if result.Duplicate {
		outcome.Status = metrics.WebhookDuplicate
		return nil
	}
	outcome.Status = metrics.WebhookAccepted
	return nil
}

// saveCard stores the customer token of a successful preapproval for the
// buyer named in custom_1.
func (s *Service) saveCard(ctx context.Context, n payhere.Notification, code payhere.StatusCode, outcome *Outcome) error {
	if code != payhere.StatusSuccess {
		return nil
	}
	buyerID, err := uuid.Parse(strings.TrimSpace(n.Custom1))
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "preapproval is missing the buyer reference")
	}
	month, year, err := cards.ParseExpiry(n.CardExpiry)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid card expiry")
	}
	card, err := s.cards.Save(ctx, buyerID, cards.TokenPayload{
		Token:        n.CustomerToken,
		MaskedNumber: n.CardNo,
		HolderName:   n.CardHolderName,
		Method:       n.Method,
		ExpiryMonth:  month,
		ExpiryYear:   year,
	})
	if err != nil {
		return err
	}
	outcome.CardID = card.ID
	return nil
}

func (s *Service) forget(ctx context.Context, key string) {
	if err := s.guard.Delete(ctx, key); err != nil {
		s.warn(ctx, fmt.Sprintf("release webhook dedup key: %v", err))
	}
}

func (s *Service) record(ctx context.Context, n payhere.Notification, outcome *Outcome, err error) {
	if s.logg == nil {
		return
	}
	fields := n.Redacted()
	fields["outcome"] = outcome.Status
	if outcome.OrderID != uuid.Nil {
		fields["order_id"] = outcome.OrderID.String()
	}
	logCtx := s.logg.WithFields(ctx, fields)

	switch outcome.Status {
	case metrics.WebhookAccepted, metrics.WebhookDuplicate, metrics.WebhookPending:
		s.logg.Info(logCtx, "payhere notification processed")
	case metrics.WebhookChargeback:
		s.logg.Warn(logCtx, "payhere reported a chargeback; manual review required")
	case metrics.WebhookAmountMismatch:
		s.logg.Error(logCtx, "payhere notification amount mismatch; flagged for review", err)
	case metrics.WebhookError:
		s.logg.Error(logCtx, "payhere notification could not be applied", err)
	default:
		s.logg.Warn(logCtx, fmt.Sprintf("payhere notification rejected: %v", err))
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func missingFields(n payhere.Notification) []string {
	missing := []string{}
	for field, value := range map[string]string{
		"merchant_id":      n.MerchantID,
		"order_id":         n.OrderID,
		"payhere_amount":   n.Amount,
		"payhere_currency": n.Currency,
		"status_code":      n.StatusCode,
		"md5sig":           n.MD5Sig,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

func isZeroAmount(amount string) bool {
	cents, err := payhere.ParseCents(amount)
	return err == nil && cents == 0
}
