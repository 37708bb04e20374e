package validators

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
)

type refundBody struct {
	OrderID string      `json:"order_id" validate:"required,uuid"`
	Amount  json.Number `json:"amount" validate:"required,money"`
}

func decode(t *testing.T, body string) error {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest refundBody
	return DecodeJSONBody(req, &dest)
}

func requireValidation(t *testing.T, err error) *pkgerrors.Error {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	return typed
}

func TestDecodeJSONBody(t *testing.T) {
	id := uuid.NewString()
	if err := decode(t, `{"order_id":"`+id+`","amount":"2500.00"}`); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}

	requireValidation(t, decode(t, `{"order_id":"`+id+`","amount":"2500.00","extra":1}`))
	requireValidation(t, decode(t, `{"order_id":"`+id+`","amount":"1"}{"order_id":"x"}`))

	typed := requireValidation(t, decode(t, `{"order_id":"nope","amount":"12.345"}`))
	details := typed.Details().(map[string]string)
	if details["order_id"] != "must be a valid uuid" || !strings.Contains(details["amount"], "two decimals") {
		t.Fatalf("unexpected field details %v", details)
	}

	requireValidation(t, decode(t, `{"order_id":"`+id+`","amount":"-1"}`))
}

func TestDecodeJSONBodyLimitsSize(t *testing.T) {
	huge := `{"order_id":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	typed := requireValidation(t, decode(t, huge))
	if typed.Message() != "request body too large" {
		t.Fatalf("unexpected message %q", typed.Message())
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  packed\x00 by noon\t ", 0); got != "packed by noon" {
		t.Fatalf("unexpected %q", got)
	}
	// each Sinhala letter is three bytes; a byte cut at 4 would split the second one
	got := SanitizeString("අලුත් එළවළු", 4)
	if !utf8.ValidString(got) || got != "අ" {
		t.Fatalf("expected clean rune boundary, got %q", got)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&bad=x&big=500", nil)
	if v, err := ParseQueryInt(req, "limit", 25, 1, 100); err != nil || v != 10 {
		t.Fatalf("expected 10, got %d %v", v, err)
	}
	if v, err := ParseQueryInt(req, "missing", 25, 1, 100); err != nil || v != 25 {
		t.Fatalf("expected default, got %d %v", v, err)
	}
	requireValidation(t, func() error { _, err := ParseQueryInt(req, "bad", 25, 1, 100); return err }())
	requireValidation(t, func() error { _, err := ParseQueryInt(req, "big", 25, 1, 100); return err }())
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	var got uuid.UUID
	var gotErr error
	r := chi.NewRouter()
	r.Get("/orders/{orderID}", func(w http.ResponseWriter, req *http.Request) {
		got, gotErr = ParseUUIDParam(req, "orderID")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id.String(), nil))
	if gotErr != nil || got != id {
		t.Fatalf("expected %s, got %s %v", id, got, gotErr)
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/abc", nil))
	requireValidation(t, gotErr)
}
