package payhere

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// StatusCode is the payment outcome reported by PayHere.
type StatusCode int

const (
	StatusSuccess    StatusCode = 2
	StatusPending    StatusCode = 0
	StatusCanceled   StatusCode = -1
	StatusFailed     StatusCode = -2
	StatusChargeback StatusCode = -3
)

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	case StatusChargeback:
		return "chargeback"
	default:
		return "unknown"
	}
}

// Known reports whether PayHere documents the code.
func (s StatusCode) Known() bool {
	return s.String() != "unknown"
}

// ParseStatusCode parses the raw status_code field.
func ParseStatusCode(raw string) (StatusCode, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	code := StatusCode(v)
	return code, code.Known()
}

// Notification is the notify_url callback body. Amount, currency and status
// are kept as received because the signature is computed over the raw text.
type Notification struct {
	MerchantID       string `json:"merchant_id"`
	OrderID          string `json:"order_id"`
	PaymentID        string `json:"payment_id"`
	Amount           string `json:"payhere_amount"`
	Currency         string `json:"payhere_currency"`
	StatusCode       string `json:"status_code"`
	MD5Sig           string `json:"md5sig"`
	StatusMessage    string `json:"status_message,omitempty"`
	Method           string `json:"method,omitempty"`
	Custom1          string `json:"custom_1,omitempty"`
	Custom2          string `json:"custom_2,omitempty"`
	CustomerToken    string `json:"customer_token,omitempty"`
	CardHolderName   string `json:"card_holder_name,omitempty"`
	CardNo           string `json:"card_no,omitempty"`
	CardExpiry       string `json:"card_expiry,omitempty"`
	Recurring        string `json:"recurring,omitempty"`
	MessageType      string `json:"message_type,omitempty"`
	SubscriptionID   string `json:"subscription_id,omitempty"`
	AuthorizationRef string `json:"authorization_code,omitempty"`
}

// NotificationFromForm reads a form-encoded notify callback.
func NotificationFromForm(values url.Values) Notification {
	get := func(key string) string { return strings.TrimSpace(values.Get(key)) }
	return Notification{
		MerchantID:       get("merchant_id"),
		OrderID:          get("order_id"),
		PaymentID:        get("payment_id"),
		Amount:           get("payhere_amount"),
		Currency:         get("payhere_currency"),
		StatusCode:       get("status_code"),
		MD5Sig:           get("md5sig"),
		StatusMessage:    get("status_message"),
		Method:           get("method"),
		Custom1:          get("custom_1"),
		Custom2:          get("custom_2"),
		CustomerToken:    get("customer_token"),
		CardHolderName:   get("card_holder_name"),
		CardNo:           get("card_no"),
		CardExpiry:       get("card_expiry"),
		Recurring:        get("recurring"),
		MessageType:      get("message_type"),
		SubscriptionID:   get("subscription_id"),
		AuthorizationRef: get("authorization_code"),
	}
}

// NotificationFromJSON reads a notify callback posted as a JSON object.
// Numbers are kept in their original textual form so the signature still
// matches the amount the gateway signed.
func NotificationFromJSON(body []byte) (Notification, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	values := url.Values{}
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			values.Set(key, v)
		case json.Number:
			values.Set(key, v.String())
		case bool:
			values.Set(key, strconv.FormatBool(v))
		default:
			return Notification{}, fmt.Errorf("notification field %q must be a scalar", key)
		}
	}
	return NotificationFromForm(values), nil
}

// IsPreapproval reports whether the callback registered a card for later charges.
func (n Notification) IsPreapproval() bool {
	return strings.TrimSpace(n.CustomerToken) != ""
}

// Redacted returns loggable fields with the signature and card token removed.
func (n Notification) Redacted() map[string]any {
	return map[string]any{
		"merchant_id":      n.MerchantID,
		"gateway_order_id": n.OrderID,
		"payment_id":       n.PaymentID,
		"amount":           n.Amount,
		"currency":         n.Currency,
		"status_code":      n.StatusCode,
		"method":           n.Method,
		"preapproval":      n.IsPreapproval(),
	}
}
