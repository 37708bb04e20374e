package payherewebhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agromart/agromart-backend/internal/cards"
	"github.com/agromart/agromart-backend/internal/ledger"
	"github.com/agromart/agromart-backend/internal/orders"
	"github.com/agromart/agromart-backend/pkg/db"
	"github.com/agromart/agromart-backend/pkg/db/dbtest"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/metrics"
	"github.com/agromart/agromart-backend/pkg/outbox"
	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	testMerchantID = "1211149"
	testSecret     = "MzE0NjU0NjQ2NTQ2NTQ2NTQ="
)

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("agm:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

type stubCards struct {
	saved []cards.TokenPayload
	buyer uuid.UUID
	err   error
}

func (s *stubCards) Save(ctx context.Context, buyerID uuid.UUID, payload cards.TokenPayload) (*models.CardToken, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.saved = append(s.saved, payload)
	s.buyer = buyerID
	return &models.CardToken{ID: uuid.New(), BuyerID: buyerID}, nil
}

type countingMetrics struct {
	outcomes map[string]int
}

func (m *countingMetrics) IncWebhook(outcome string) {
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

type fixedPrices struct {
	snapshot orders.ProductSnapshot
}

func (p fixedPrices) LookupProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]orders.ProductSnapshot, error) {
	out := map[uuid.UUID]orders.ProductSnapshot{}
	for _, id := range ids {
		if id == p.snapshot.ProductID {
			out[id] = p.snapshot
		}
	}
	return out, nil
}

type failingApplier struct {
	orderApplier
	calls int
}

func (f *failingApplier) ApplyPaymentEvent(ctx context.Context, input orders.PaymentEventInput) (*orders.ApplyResult, error) {
	f.calls++
	return nil, pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")
}

type harness struct {
	conn    *gorm.DB
	orders  orders.Service
	cards   *stubCards
	store   *inMemoryStore
	metrics *countingMetrics
	signer  *payhere.Hasher
	svc     *Service
	order   *models.Order
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	product := orders.ProductSnapshot{
		ProductID:      uuid.New(),
		FarmerID:       uuid.New(),
		Name:           "Ambul bananas",
		Unit:           "bunch",
		UnitPriceCents: 125000,
		Currency:       enums.CurrencyLKR,
		Active:         true,
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:   orders.NewRepository(conn),
		Tx:     db.NewFromConn(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
		Ledger: ledgerSvc,
		Prices: fixedPrices{snapshot: product},
	})
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	order, err := orderSvc.Create(context.Background(), orders.CreateOrderInput{
		Buyer: orders.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer},
		Items: []orders.CreateOrderItemInput{{ProductID: product.ProductID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	h := &harness{
		conn:    conn,
		orders:  orderSvc,
		cards:   &stubCards{},
		store:   newInMemoryStore(),
		metrics: &countingMetrics{},
		signer:  payhere.NewHasher(testSecret),
		order:   order,
	}
	h.svc = h.newService(t, orderSvc)
	return h
}

func (h *harness) newService(t *testing.T, applier orderApplier) *Service {
	t.Helper()
	guard, err := NewIdempotencyGuard(h.store, time.Hour, DedupScope)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	svc, err := NewService(ServiceParams{
		MerchantID: testMerchantID,
		Signer:     h.signer,
		Orders:     applier,
		Cards:      h.cards,
		Guard:      guard,
		Metrics:    h.metrics,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

func (h *harness) notification(amount, currency, status string) payhere.Notification {
	n := payhere.Notification{
		MerchantID: testMerchantID,
		OrderID:    h.order.GatewayOrderID,
		PaymentID:  "320025071278",
		Amount:     amount,
		Currency:   currency,
		StatusCode: status,
		Method:     "VISA",
	}
	n.MD5Sig = payhere.NotifySignature(h.signer, n.MerchantID, n.OrderID, n.Amount, n.Currency, n.StatusCode)
	return n
}

func (h *harness) reload(t *testing.T) *models.Order {
	t.Helper()
	order, err := h.orders.Get(context.Background(), h.order.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return order
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestSuccessNotificationMarksOrderPaid(t *testing.T) {
	h := newHarness(t)
	if h.order.TotalCents != 250000 {
		t.Fatalf("fixture total %d", h.order.TotalCents)
	}

	outcome, err := h.svc.HandleNotification(context.Background(), h.notification("2500.00", "LKR", "2"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Status != metrics.WebhookAccepted || outcome.OrderID != h.order.ID || !outcome.Accepted() {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	order := h.reload(t)
	if order.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("payment must not change fulfillment status, got %s", order.Status)
	}
	if order.TransactionID == nil || *order.TransactionID != "320025071278" {
		t.Fatalf("expected payment id recorded, got %v", order.TransactionID)
	}
}

func TestDuplicateNotificationAppliesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.notification("2500.00", "LKR", "2")

	historyBefore := dbtest.Count(t, h.conn, "order_status_history", "order_id = ?", h.order.ID)
	notificationsBefore := dbtest.Count(t, h.conn, "outbox_events", "aggregate_id = ? AND event_type = ?", h.order.ID, enums.EventNotificationRequested)

	if _, err := h.svc.HandleNotification(ctx, n); err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := h.svc.HandleNotification(ctx, n)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Status != metrics.WebhookDuplicate {
		t.Fatalf("expected duplicate, got %s", second.Status)
	}

	if got := dbtest.Count(t, h.conn, "order_status_history", "order_id = ?", h.order.ID) - historyBefore; got != 1 {
		t.Fatalf("expected one history append, got %d", got)
	}
	if got := dbtest.Count(t, h.conn, "outbox_events", "aggregate_id = ? AND event_type = ?", h.order.ID, enums.EventNotificationRequested) - notificationsBefore; got != 1 {
		t.Fatalf("expected one notification instruction, got %d", got)
	}
	if h.metrics.outcomes[metrics.WebhookAccepted] != 1 || h.metrics.outcomes[metrics.WebhookDuplicate] != 1 {
		t.Fatalf("unexpected metrics %v", h.metrics.outcomes)
	}
}

func TestDuplicateWithoutRedisIsStillIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.err = errors.New("redis: connection refused")
	n := h.notification("2500.00", "LKR", "2")

	if _, err := h.svc.HandleNotification(ctx, n); err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := h.svc.HandleNotification(ctx, n)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Status != metrics.WebhookDuplicate {
		t.Fatalf("expected state-level duplicate, got %s", second.Status)
	}
}

func TestSignatureMismatchIsRejected(t *testing.T) {
	h := newHarness(t)
	n := h.notification("2500.00", "LKR", "2")
	n.StatusCode = "-2"

	outcome, err := h.svc.HandleNotification(context.Background(), n)
	requireCode(t, err, pkgerrors.CodeSignatureMismatch)
	if outcome.Status != metrics.WebhookSignatureMismatch || outcome.Accepted() {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if typed := pkgerrors.As(err); typed.Details() != nil {
		t.Fatalf("signature errors must not carry details, got %v", typed.Details())
	}
	if h.reload(t).PaymentStatus != enums.PaymentStatusUnpaid {
		t.Fatal("order changed by forged notification")
	}
}

func TestAmountMismatchIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, tc := range []struct{ amount, currency string }{
		{"2500", "LKR"},
		{"2499.99", "LKR"},
		{"2500.00", "USD"},
	} {
		outcome, err := h.svc.HandleNotification(ctx, h.notification(tc.amount, tc.currency, "2"))
		requireCode(t, err, pkgerrors.CodeAmountMismatch)
		if outcome.Status != metrics.WebhookAmountMismatch {
			t.Fatalf("%s %s: unexpected outcome %s", tc.amount, tc.currency, outcome.Status)
		}
	}
	if h.reload(t).PaymentStatus != enums.PaymentStatusUnpaid {
		t.Fatal("order changed by mismatched notification")
	}
	if len(h.store.data) != 0 {
		t.Fatal("rejected notifications must not consume dedup keys")
	}
}

func TestFailedAndInformationalStatuses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.svc.HandleNotification(ctx, h.notification("2500.00", "LKR", "0"))
	if err != nil || pending.Status != metrics.WebhookPending {
		t.Fatalf("pending: %+v %v", pending, err)
	}
	chargeback, err := h.svc.HandleNotification(ctx, h.notification("2500.00", "LKR", "-3"))
	if err != nil || chargeback.Status != metrics.WebhookChargeback {
		t.Fatalf("chargeback: %+v %v", chargeback, err)
	}
	if h.reload(t).PaymentStatus != enums.PaymentStatusUnpaid {
		t.Fatal("informational statuses must not change the order")
	}

	failed, err := h.svc.HandleNotification(ctx, h.notification("2500.00", "LKR", "-2"))
	if err != nil || failed.Status != metrics.WebhookAccepted {
		t.Fatalf("failed: %+v %v", failed, err)
	}
	if h.reload(t).PaymentStatus != enums.PaymentStatusFailed {
		t.Fatal("expected payment failed")
	}

	paid, err := h.svc.HandleNotification(ctx, h.notification("2500.00", "LKR", "2"))
	if err != nil || paid.Status != metrics.WebhookAccepted {
		t.Fatalf("paid after failure: %+v %v", paid, err)
	}
	lateFailure, err := h.svc.HandleNotification(ctx, h.notification("2500.00", "LKR", "-1"))
	if err != nil || lateFailure.Status != metrics.WebhookDuplicate {
		t.Fatalf("late failure: %+v %v", lateFailure, err)
	}
	if h.reload(t).PaymentStatus != enums.PaymentStatusPaid {
		t.Fatal("late failure must not downgrade a paid order")
	}
}

func TestUnknownOrderAndMalformedInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n := h.notification("2500.00", "LKR", "2")
	n.OrderID = "AGM-19990101-NOPE00"
	n.MD5Sig = payhere.NotifySignature(h.signer, n.MerchantID, n.OrderID, n.Amount, n.Currency, n.StatusCode)
	_, err := h.svc.HandleNotification(ctx, n)
	requireCode(t, err, pkgerrors.CodeNotFound)

	missing := h.notification("2500.00", "LKR", "2")
	missing.MD5Sig = ""
	_, err = h.svc.HandleNotification(ctx, missing)
	requireCode(t, err, pkgerrors.CodeValidation)

	unknown := h.notification("2500.00", "LKR", "7")
	_, err = h.svc.HandleNotification(ctx, unknown)
	requireCode(t, err, pkgerrors.CodeValidation)

	other := h.notification("2500.00", "LKR", "2")
	other.MerchantID = "999999"
	other.MD5Sig = payhere.NotifySignature(h.signer, other.MerchantID, other.OrderID, other.Amount, other.Currency, other.StatusCode)
	_, err = h.svc.HandleNotification(ctx, other)
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestApplyFailureReleasesDedupKey(t *testing.T) {
	h := newHarness(t)
	failing := &failingApplier{orderApplier: h.orders}
	svc := h.newService(t, failing)
	n := h.notification("2500.00", "LKR", "2")

	outcome, err := svc.HandleNotification(context.Background(), n)
	requireCode(t, err, pkgerrors.CodeDependency)
	if outcome.Status != metrics.WebhookError {
		t.Fatalf("expected error outcome, got %s", outcome.Status)
	}
	if len(h.store.data) != 0 {
		t.Fatal("expected dedup key released for gateway retry")
	}

	if _, err := h.svc.HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.reload(t).PaymentStatus != enums.PaymentStatusPaid {
		t.Fatal("retry should apply the payment")
	}
}

func TestPreapprovalSavesCard(t *testing.T) {
	h := newHarness(t)
	buyer := uuid.New()

	n := payhere.Notification{
		MerchantID:     testMerchantID,
		OrderID:        "PRE-" + buyer.String()[:8],
		PaymentID:      "320025071279",
		Amount:         "0.00",
		Currency:       "LKR",
		StatusCode:     "2",
		Method:         "MASTER",
		Custom1:        buyer.String(),
		CustomerToken:  "59AFEE022CC69CA39D325E1B59130862",
		CardHolderName: "N. Silva",
		CardNo:         "************4444",
		CardExpiry:     "09/29",
	}
	n.MD5Sig = payhere.NotifySignature(h.signer, n.MerchantID, n.OrderID, n.Amount, n.Currency, n.StatusCode)

	outcome, err := h.svc.HandleNotification(context.Background(), n)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Status != metrics.WebhookAccepted || outcome.CardID == uuid.Nil {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(h.cards.saved) != 1 || h.cards.buyer != buyer {
		t.Fatalf("expected card saved for buyer, got %+v", h.cards.saved)
	}
	saved := h.cards.saved[0]
	if saved.Token != n.CustomerToken || saved.ExpiryMonth != 9 || saved.ExpiryYear != 2029 || saved.Method != "MASTER" {
		t.Fatalf("unexpected payload %+v", saved)
	}

	n.Custom1 = "not-a-uuid"
	_, err = h.svc.HandleNotification(context.Background(), n)
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestNewServiceRequiresMerchant(t *testing.T) {
	_, err := NewService(ServiceParams{Signer: payhere.NewHasher(testSecret)})
	requireCode(t, err, pkgerrors.CodeConfiguration)
}

func TestDedupKey(t *testing.T) {
	if got := DedupKey("AGM-20260301-ABC123", payhere.StatusFailed); got != "AGM-20260301-ABC123:-2" {
		t.Fatalf("unexpected key %q", got)
	}
}
