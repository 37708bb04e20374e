package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agromart/agromart-backend/internal/orders"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/agromart/agromart-backend/pkg/redis"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL = 2 * time.Minute

	// submissionTTL outlives any manual reconciliation of a stuck refund.
	submissionTTL     = 30 * 24 * time.Hour
	submissionPending = "pending"

	resultSucceeded    = "succeeded"
	resultRejected     = "rejected"
	resultGatewayError = "gateway_error"
)

type orderStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkRefunded(ctx context.Context, input orders.MarkRefundedInput) (*models.Order, error)
}

type refundGateway interface {
	Refund(ctx context.Context, req payhere.RefundRequest) (*payhere.RefundResult, error)
}

// submissionStore remembers refunds handed to the gateway. The value is
// submissionPending until the gateway answers, then the gateway refund id.
type submissionStore interface {
	RefundSubmissionKey(orderID string) string
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type refundMetrics interface {
	IncRefund(result string)
}

// RefundInput requests a full refund of an order's captured payment.
type RefundInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   orders.Actor
}

// RefundResult echoes the gateway response with the refunded order.
type RefundResult struct {
	Order    *models.Order `json:"order"`
	RefundID string        `json:"refund_id"`
	Message  string        `json:"message"`
}

// ServiceParams wires the refund processor.
type ServiceParams struct {
	Orders  orderStore
	Gateway refundGateway
	Locker      redis.Locker
	LockTTL     time.Duration
	Submissions submissionStore
	Metrics     refundMetrics
	Logger      *logger.Logger
}

// Service is the refund processor. It calls the gateway at most once per order.
type Service struct {
	orders  orderStore
	gateway refundGateway
	locker  redis.Locker
	lockTTL time.Duration
	marks   submissionStore
	metrics refundMetrics
	logg    *logger.Logger
}

type noopMetrics struct{}

func (noopMetrics) IncRefund(string) {}

// NewService validates the collaborators and applies the default lock TTL.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund locker required")
	}
	if params.Submissions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund submission store required")
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	m := params.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Service{
		orders:  params.Orders,
		gateway: params.Gateway,
		locker:  params.Locker,
		lockTTL: ttl,
		marks:   params.Submissions,
		metrics: m,
		logg:    params.Logger,
	}, nil
}

// Refund returns the full order total through the gateway and, once the
// gateway confirms, moves the order to refunded. Nothing is written to the
// order when the gateway call fails. A refund the gateway accepted but the
// order never recorded is finished from its submission mark on retry, without
// a second gateway call.
func (s *Service) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if err := authorize(input.Actor); err != nil {
		return nil, err
	}

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.precheck(order, input.Actor); err != nil {
		s.metrics.IncRefund(resultRejected)
		return nil, err
	}

	lockName := "refund:" + order.ID.String()
	token, acquired, err := s.locker.AcquireLock(ctx, lockName, s.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire refund lock")
	}
	if !acquired {
		s.metrics.IncRefund(resultRejected)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund for this order is already in progress")
	}
	defer s.release(ctx, lockName, token)

	// Another refund may have finished while we waited for the lock.
	order, err = s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.precheck(order, input.Actor); err != nil {
		s.metrics.IncRefund(resultRejected)
		return nil, err
	}

	reason := strings.TrimSpace(input.Reason)
	markKey := s.marks.RefundSubmissionKey(order.ID.String())
	claimed, err := s.marks.SetNX(ctx, markKey, submissionPending, submissionTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund submission")
	}
	if !claimed {
		return s.resume(ctx, order, input.Actor, reason, markKey)
	}

	gatewayResult, err := s.gateway.Refund(ctx, payhere.RefundRequest{
		PaymentID: *order.TransactionID,
		OrderID:   order.GatewayOrderID,
		Amount:    payhere.FormatCents(order.TotalCents),
		Currency:  string(order.Currency),
		Reason:    reason,
	})
	if err != nil {
		s.metrics.IncRefund(resultGatewayError)
		s.forget(ctx, order.ID, markKey)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payhere refund failed")
	}

	if err := s.marks.Set(context.WithoutCancel(ctx), markKey, gatewayResult.RefundID, submissionTTL); err != nil && s.logg != nil {
		// The pending mark still blocks a second gateway call.
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "store gateway refund id", err)
	}
	return s.complete(ctx, order, input.Actor, reason, markKey, gatewayResult.RefundID, gatewayResult.Message)
}

// resume handles an order whose refund was already handed to the gateway.
func (s *Service) resume(ctx context.Context, order *models.Order, actor orders.Actor, reason, markKey string) (*RefundResult, error) {
	refundID, err := s.marks.Get(ctx, markKey)
	switch {
	case errors.Is(err, goredis.Nil):
		s.metrics.IncRefund(resultRejected)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund for this order is already in progress")
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read refund submission")
	case refundID == submissionPending:
		s.metrics.IncRefund(resultRejected)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund for this order was submitted with an unknown outcome; reconcile with the gateway").
			WithDetails(map[string]any{"order_id": order.ID.String()})
	}
	if s.logg != nil {
		s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), fmt.Sprintf("finishing refund %s accepted by the gateway earlier", refundID))
	}
	return s.complete(ctx, order, actor, reason, markKey, refundID, "refund already accepted by gateway")
}

// complete records an accepted gateway refund on the order.
func (s *Service) complete(ctx context.Context, order *models.Order, actor orders.Actor, reason, markKey, refundID, message string) (*RefundResult, error) {
	refunded, err := s.orders.MarkRefunded(ctx, orders.MarkRefundedInput{
		OrderID:  order.ID,
		Actor:    actor,
		Reason:   reason,
		RefundID: refundID,
	})
	if err != nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
				"refund_id": refundID,
			})
			s.logg.Error(logCtx, "gateway refunded but order could not be marked refunded; a retry will finish it", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded").
			WithDetails(map[string]any{"order_id": order.ID.String(), "refund_id": refundID, "gateway_refunded": true})
	}
	s.forget(ctx, order.ID, markKey)

	s.metrics.IncRefund(resultSucceeded)
	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), fmt.Sprintf("order refunded (refund %s)", refundID))
	}
	return &RefundResult{
		Order:    refunded,
		RefundID: refundID,
		Message:  message,
	}, nil
}

func (s *Service) forget(ctx context.Context, orderID uuid.UUID, markKey string) {
	if err := s.marks.Del(context.WithoutCancel(ctx), markKey); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), fmt.Sprintf("clear refund submission: %v", err))
	}
}

func (s *Service) precheck(order *models.Order, actor orders.Actor) error {
	if actor.Role == enums.ActorRoleFarmer && !order.HasFarmer(actor.UserID) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to actor")
	}
	if err := orders.CheckRefundable(order); err != nil {
		return err
	}
	if order.TransactionID == nil || strings.TrimSpace(*order.TransactionID) == "" {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no captured gateway payment")
	}
	return nil
}

func (s *Service) release(ctx context.Context, name, token string) {
	if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), name, token); err != nil && s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf("release refund lock %s: %v", name, err))
	}
}

// authorize admits admins and farmers; buyers request refunds through support.
func authorize(actor orders.Actor) error {
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleFarmer:
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "only admins and farmers can issue refunds")
}
