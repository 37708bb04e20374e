package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
)

type replayStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newReplayStore() *replayStore {
	return &replayStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *replayStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (s *replayStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key], _ = value.(string)
	s.ttls[key] = ttl
	return true, nil
}

func (s *replayStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.data[key], _ = value.(string)
	s.ttls[key] = ttl
	return nil
}

func (s *replayStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *replayStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func refundRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/refund", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	return payload.Error.Code
}

func TestIdempotentRequiresHeader(t *testing.T) {
	called := false
	h := Idempotent(newReplayStore(), nil, "payment.refund", MoneyReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, refundRequest("", `{"order_id":"a"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if called {
		t.Fatalf("handler should not run without an idempotency key")
	}
}

func TestIdempotentReplaysStoredResponse(t *testing.T) {
	store := newReplayStore()
	calls := 0
	h := Idempotent(store, nil, "payment.refund", MoneyReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, refundRequest("abc", `{"order_id":"a"}`))
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected first response 202 got %d", first.Code)
	}

	replay := httptest.NewRecorder()
	h.ServeHTTP(replay, refundRequest("abc", `{"order_id":"a"}`))
	if replay.Code != http.StatusAccepted {
		t.Fatalf("expected replay status 202 got %d", replay.Code)
	}
	if replay.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type preserved")
	}
	if replay.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
	if replay.Body.String() != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", replay.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
	for key, ttl := range store.ttls {
		if ttl != MoneyReplayWindow {
			t.Fatalf("%s stored with ttl %v", key, ttl)
		}
	}
}

func TestIdempotentRejectsDifferentBody(t *testing.T) {
	h := Idempotent(newReplayStore(), nil, "payment.refund", MoneyReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), refundRequest("xyz", `{"order_id":"a"}`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, refundRequest("xyz", `{"order_id":"b"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected %s got %s", pkgerrors.CodeIdempotency, code)
	}
}

func TestIdempotentRejectsRequestStillInFlight(t *testing.T) {
	store := newReplayStore()
	var inner *httptest.ResponseRecorder
	var h http.Handler
	h = Idempotent(store, nil, "payment.charge", MoneyReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			// a duplicate arrives while the first charge is running
			inner = httptest.NewRecorder()
			h.ServeHTTP(inner, refundRequest("dup", `{"order_id":"a"}`))
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, refundRequest("dup", `{"order_id":"a"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request 200 got %d", rec.Code)
	}
	if inner.Code != http.StatusConflict {
		t.Fatalf("expected in-flight duplicate 409 got %d", inner.Code)
	}
}

func TestIdempotentReleasesKeyOnServerError(t *testing.T) {
	store := newReplayStore()
	calls := 0
	h := Idempotent(store, nil, "order.create", OrderReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, refundRequest("retry", `{}`))
	if first.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", first.Code)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected key released after server error, got %v", store.data)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, refundRequest("retry", `{}`))
	if second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to run handler, got %d calls=%d", second.Code, calls)
	}
}

func TestIdempotentKeysAreScopedPerCaller(t *testing.T) {
	store := newReplayStore()
	calls := 0
	h := Idempotent(store, nil, "order.create", OrderReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, user := range []uuid.UUID{uuid.New(), uuid.New()} {
		req := refundRequest("same", `{}`)
		req = req.WithContext(WithActor(req.Context(), user, enums.ActorRoleBuyer))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected each caller to run once, got %d", calls)
	}
}

type brokenStore struct{ *replayStore }

func (brokenStore) SetNX(context.Context, string, any, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestIdempotentFailsClosedWhenStoreUnavailable(t *testing.T) {
	h := Idempotent(brokenStore{newReplayStore()}, nil, "payment.charge", MoneyReplayWindow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a claim")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, refundRequest("k", `{}`))
	if rec.Code < http.StatusInternalServerError {
		t.Fatalf("expected dependency failure, got %d", rec.Code)
	}
}
