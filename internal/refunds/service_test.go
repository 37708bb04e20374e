package refunds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agromart/agromart-backend/internal/ledger"
	"github.com/agromart/agromart-backend/internal/orders"
	"github.com/agromart/agromart-backend/pkg/db"
	"github.com/agromart/agromart-backend/pkg/db/dbtest"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/outbox"
	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/agromart/agromart-backend/pkg/redis"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type stubGateway struct {
	calls    int
	requests []payhere.RefundRequest
	err      error
}

func (g *stubGateway) Refund(ctx context.Context, req payhere.RefundRequest) (*payhere.RefundResult, error) {
	g.calls++
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payhere.RefundResult{RefundID: "RF-" + req.OrderID, Message: "Successfully submitted refund request"}, nil
}

type memoryLocker struct {
	mu       sync.Mutex
	held     map[string]string
	released int
}

func (l *memoryLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[name]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[name] = token
	return token, true, nil
}

func (l *memoryLocker) ReleaseLock(ctx context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] != token {
		return redis.ErrLockNotHeld
	}
	delete(l.held, name)
	l.released++
	return nil
}

type memoryMarks struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryMarks) RefundSubmissionKey(orderID string) string {
	return "refund:submitted:" + orderID
}

func (m *memoryMarks) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]string{}
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryMarks) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryMarks) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]string{}
	}
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryMarks) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// flakyOrders fails MarkRefunded a fixed number of times.
type flakyOrders struct {
	orders.Service
	failures int
}

func (o *flakyOrders) MarkRefunded(ctx context.Context, input orders.MarkRefundedInput) (*models.Order, error) {
	if o.failures > 0 {
		o.failures--
		return nil, errors.New("db connection reset")
	}
	return o.Service.MarkRefunded(ctx, input)
}

type recordingMetrics struct {
	results []string
}

func (m *recordingMetrics) IncRefund(result string) {
	m.results = append(m.results, result)
}

type onePrice struct {
	snapshot orders.ProductSnapshot
}

func (p onePrice) LookupProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]orders.ProductSnapshot, error) {
	return map[uuid.UUID]orders.ProductSnapshot{p.snapshot.ProductID: p.snapshot}, nil
}

type fixture struct {
	conn    *gorm.DB
	orders  orders.Service
	gateway *stubGateway
	locker  *memoryLocker
	marks   *memoryMarks
	metrics *recordingMetrics
	svc     *Service
	buyer   orders.Actor
	farmer  orders.Actor
	admin   orders.Actor
	order   *models.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	f := &fixture{
		conn:    conn,
		gateway: &stubGateway{},
		locker:  &memoryLocker{},
		marks:   &memoryMarks{},
		metrics: &recordingMetrics{},
		buyer:   orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer},
		farmer:  orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleFarmer},
		admin:   orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
	}
	product := orders.ProductSnapshot{
		ProductID:      uuid.New(),
		FarmerID:       f.farmer.UserID,
		Name:           "Red rice",
		Unit:           "kg",
		UnitPriceCents: 25000,
		Currency:       enums.CurrencyLKR,
		Active:         true,
	}
	f.orders, err = orders.NewService(orders.ServiceParams{
		Repo:   orders.NewRepository(conn),
		Tx:     db.NewFromConn(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
		Ledger: ledgerSvc,
		Prices: onePrice{snapshot: product},
	})
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	f.svc, err = NewService(ServiceParams{
		Orders:      f.orders,
		Gateway:     f.gateway,
		Locker:      f.locker,
		Submissions: f.marks,
		Metrics:     f.metrics,
	})
	if err != nil {
		t.Fatalf("refunds: %v", err)
	}
	f.order, err = f.orders.Create(context.Background(), orders.CreateOrderInput{
		Buyer: f.buyer,
		Items: []orders.CreateOrderItemInput{{ProductID: product.ProductID, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return f
}

func (f *fixture) pay(t *testing.T) {
	t.Helper()
	if _, err := f.orders.ApplyPaymentEvent(context.Background(), orders.PaymentEventInput{
		OrderID:          f.order.ID,
		Outcome:          orders.PaymentOutcomeConfirmed,
		GatewayPaymentID: "320025071300",
		StatusCode:       2,
	}); err != nil {
		t.Fatalf("pay: %v", err)
	}
}

func (f *fixture) deliver(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	steps := []struct {
		actor  orders.Actor
		target enums.OrderStatus
	}{
		{f.farmer, enums.OrderStatusConfirmed},
		{f.farmer, enums.OrderStatusPreparing},
		{f.farmer, enums.OrderStatusShipped},
		{f.buyer, enums.OrderStatusDelivered},
	}
	for _, step := range steps {
		if _, err := f.orders.Transition(ctx, orders.TransitionInput{OrderID: f.order.ID, Actor: step.actor, Target: step.target}); err != nil {
			t.Fatalf("transition to %s: %v", step.target, err)
		}
	}
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestRefundDeliveredOrder(t *testing.T) {
	f := newFixture(t)
	f.pay(t)
	f.deliver(t)
	ctx := context.Background()

	result, err := f.svc.Refund(ctx, RefundInput{OrderID: f.order.ID, Reason: "bruised on arrival", Actor: f.admin})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.Order.Status != enums.OrderStatusRefunded || result.Order.PaymentStatus != enums.PaymentStatusRefunded {
		t.Fatalf("unexpected order state %s/%s", result.Order.Status, result.Order.PaymentStatus)
	}
	if result.RefundID == "" {
		t.Fatal("expected gateway refund id echoed")
	}
	req := f.gateway.requests[0]
	if req.PaymentID != "320025071300" || req.Amount != "2500.00" || req.Currency != "LKR" || req.OrderID != f.order.GatewayOrderID {
		t.Fatalf("unexpected gateway request %+v", req)
	}

	_, err = f.svc.Refund(ctx, RefundInput{OrderID: f.order.ID, Reason: "again", Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeConflict)
	if f.gateway.calls != 1 {
		t.Fatalf("second refund must not reach the gateway, got %d calls", f.gateway.calls)
	}
	if f.locker.released != 1 || len(f.locker.held) != 0 {
		t.Fatalf("expected lock released once, released=%d held=%v", f.locker.released, f.locker.held)
	}
	if len(f.metrics.results) != 2 || f.metrics.results[0] != resultSucceeded || f.metrics.results[1] != resultRejected {
		t.Fatalf("unexpected metrics %v", f.metrics.results)
	}
}

func TestRefundCancelledPaidOrder(t *testing.T) {
	f := newFixture(t)
	f.pay(t)
	if _, err := f.orders.Cancel(context.Background(), orders.CancelInput{OrderID: f.order.ID, Actor: f.farmer, Reason: "out of stock"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	result, err := f.svc.Refund(context.Background(), RefundInput{OrderID: f.order.ID, Reason: "out of stock", Actor: f.farmer})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.Order.Status != enums.OrderStatusRefunded {
		t.Fatalf("expected refunded, got %s", result.Order.Status)
	}
}

func TestRefundPreconditionsSkipGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// unpaid
	_, err := f.svc.Refund(ctx, RefundInput{OrderID: f.order.ID, Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	// paid but still in flight
	f.pay(t)
	if _, err := f.orders.Transition(ctx, orders.TransitionInput{OrderID: f.order.ID, Actor: f.farmer, Target: enums.OrderStatusConfirmed}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	_, err = f.svc.Refund(ctx, RefundInput{OrderID: f.order.ID, Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	_, err = f.svc.Refund(ctx, RefundInput{OrderID: f.order.ID, Actor: f.buyer})
	requireCode(t, err, pkgerrors.CodeForbidden)

	stranger := orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleFarmer}
	_, err = f.svc.Refund(ctx, RefundInput{OrderID: f.order.ID, Actor: stranger})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.Refund(ctx, RefundInput{OrderID: uuid.New(), Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeNotFound)

	if f.gateway.calls != 0 {
		t.Fatalf("expected no gateway calls, got %d", f.gateway.calls)
	}
}

func TestRefundGatewayFailureLeavesOrderUnchanged(t *testing.T) {
	f := newFixture(t)
	f.pay(t)
	f.deliver(t)
	f.gateway.err = pkgerrors.New(pkgerrors.CodeGateway, "payhere refund rejected").
		WithDetails(map[string]any{"status": -1, "msg": "Payment already refunded"})

	_, err := f.svc.Refund(context.Background(), RefundInput{OrderID: f.order.ID, Reason: "damaged", Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeGateway)
	if details, ok := pkgerrors.As(err).Details().(map[string]any); !ok || details["msg"] != "Payment already refunded" {
		t.Fatalf("expected gateway response surfaced verbatim, got %v", pkgerrors.As(err).Details())
	}

	order, err := f.orders.Get(context.Background(), f.order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Status != enums.OrderStatusDelivered || order.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("order changed after gateway failure: %s/%s", order.Status, order.PaymentStatus)
	}
	if n := dbtest.Count(t, f.conn, "ledger_events", "order_id = ? AND type = ?", f.order.ID, enums.LedgerEventTypeRefund); n != 0 {
		t.Fatalf("expected no refund ledger rows, got %d", n)
	}
	if len(f.locker.held) != 0 {
		t.Fatal("lock must be released after failure")
	}

	f.gateway.err = errors.New("dial tcp: i/o timeout")
	_, err = f.svc.Refund(context.Background(), RefundInput{OrderID: f.order.ID, Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeGateway)
}

func TestConcurrentRefundIsRejectedWhileLocked(t *testing.T) {
	f := newFixture(t)
	f.pay(t)
	f.deliver(t)
	if _, _, err := f.locker.AcquireLock(context.Background(), "refund:"+f.order.ID.String(), time.Minute); err != nil {
		t.Fatalf("pre-lock: %v", err)
	}

	_, err := f.svc.Refund(context.Background(), RefundInput{OrderID: f.order.ID, Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeConflict)
	if f.gateway.calls != 0 {
		t.Fatal("locked refund must not reach the gateway")
	}
}

func TestRefundRetryAfterFailedOrderUpdateSkipsGateway(t *testing.T) {
	f := newFixture(t)
	f.pay(t)
	f.deliver(t)
	ctx := context.Background()

	flaky := &flakyOrders{Service: f.orders, failures: 1}
	svc, err := NewService(ServiceParams{Orders: flaky, Gateway: f.gateway, Locker: f.locker, Submissions: f.marks})
	if err != nil {
		t.Fatalf("refunds: %v", err)
	}

	_, err = svc.Refund(ctx, RefundInput{OrderID: f.order.ID, Reason: "spoiled", Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeDependency)
	if details, _ := pkgerrors.As(err).Details().(map[string]any); details == nil || details["gateway_refunded"] != true {
		t.Fatalf("expected gateway refund flagged in details, got %v", pkgerrors.As(err).Details())
	}
	order, err := f.orders.Get(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("expected order still paid, got %s", order.PaymentStatus)
	}

	result, err := svc.Refund(ctx, RefundInput{OrderID: f.order.ID, Reason: "spoiled", Actor: f.admin})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("expected one gateway refund, got %d", f.gateway.calls)
	}
	if result.Order.Status != enums.OrderStatusRefunded || result.RefundID != "RF-"+f.order.GatewayOrderID {
		t.Fatalf("unexpected retry result %s refund=%s", result.Order.Status, result.RefundID)
	}
	if n := dbtest.Count(t, f.conn, "ledger_events", "order_id = ? AND type = ?", f.order.ID, enums.LedgerEventTypeRefund); n != 1 {
		t.Fatalf("expected one refund ledger row, got %d", n)
	}
	if len(f.marks.data) != 0 {
		t.Fatalf("expected submission mark cleared, got %v", f.marks.data)
	}
}

func TestRefundWithUnknownOutcomeIsNotResubmitted(t *testing.T) {
	f := newFixture(t)
	f.pay(t)
	f.deliver(t)
	key := f.marks.RefundSubmissionKey(f.order.ID.String())
	if _, err := f.marks.SetNX(context.Background(), key, submissionPending, time.Hour); err != nil {
		t.Fatalf("mark: %v", err)
	}

	_, err := f.svc.Refund(context.Background(), RefundInput{OrderID: f.order.ID, Actor: f.admin})
	requireCode(t, err, pkgerrors.CodeConflict)
	if f.gateway.calls != 0 {
		t.Fatalf("expected no gateway call, got %d", f.gateway.calls)
	}
	if f.marks.data[key] != submissionPending {
		t.Fatal("pending mark must survive until reconciled")
	}
}
