package payhere

import (
	"bytes"
	"encoding/json"
	"strings"
)

// PaymentRequest is the signed payload the browser checkout form submits.
type PaymentRequest struct {
	MerchantID  string `json:"merchant_id"`
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Hash        string `json:"hash"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
	NotifyURL   string `json:"notify_url,omitempty"`
	Sandbox     bool   `json:"sandbox"`
}

// BuyerProfile carries the customer details PayHere requires on its forms.
type BuyerProfile struct {
	UserID    string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	City      string
	Country   string
}

func (p BuyerProfile) missing() []string {
	fields := map[string]string{
		"user_id":    p.UserID,
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"email":      p.Email,
		"phone":      p.Phone,
		"address":    p.Address,
		"city":       p.City,
	}
	var out []string
	for _, key := range []string{"user_id", "first_name", "last_name", "email", "phone", "address", "city"} {
		if strings.TrimSpace(fields[key]) == "" {
			out = append(out, key)
		}
	}
	return out
}

// Preapproval is the redirect target plus hidden-form parameters for card registration.
type Preapproval struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
}

// ChargeRequest charges a stored customer token off-session.
type ChargeRequest struct {
	Token       string
	OrderID     string
	Amount      string
	Currency    string
	Description string
	// Custom1 is echoed back by the gateway; callers put the internal order id here.
	Custom1 string
}

// ChargeResult is the gateway's answer to a token charge.
type ChargeResult struct {
	StatusCode    StatusCode `json:"status_code"`
	StatusMessage string     `json:"status_message"`
	PaymentID     string     `json:"payment_id"`
	OrderID       string     `json:"order_id"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
}

// Succeeded reports whether money was captured.
func (r ChargeResult) Succeeded() bool {
	return r.StatusCode == StatusSuccess
}

// RefundRequest asks PayHere to return a captured payment.
type RefundRequest struct {
	PaymentID string
	OrderID   string
	Amount    string
	Currency  string
	Reason    string
}

// RefundResult is the gateway acknowledgement of a refund.
type RefundResult struct {
	RefundID string `json:"refund_id"`
	Message  string `json:"message"`
}

// PaymentRecord is one payment returned by the status query.
type PaymentRecord struct {
	PaymentID   string `json:"payment_id"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Method      string `json:"method"`
	Date        string `json:"date"`
}

type apiEnvelope struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type chargeBody struct {
	Type          string      `json:"type"`
	OrderID       string      `json:"order_id"`
	Items         string      `json:"items"`
	Currency      string      `json:"currency"`
	Amount        json.Number `json:"amount"`
	CustomerToken string      `json:"customer_token"`
	Custom1       string      `json:"custom_1,omitempty"`
	NotifyURL     string      `json:"notify_url,omitempty"`
}

type chargeResponse struct {
	apiEnvelope
	Data *struct {
		OrderID       string      `json:"order_id"`
		Currency      string      `json:"currency"`
		Amount        json.Number `json:"amount"`
		PaymentID     flexString  `json:"payment_id"`
		StatusCode    int         `json:"status_code"`
		StatusMessage string      `json:"status_message"`
	} `json:"data"`
}

type refundBody struct {
	PaymentID   string      `json:"payment_id"`
	Description string      `json:"description"`
	MerchantID  string      `json:"merchant_id"`
	OrderID     string      `json:"order_id"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	Hash        string      `json:"hash"`
}

type refundResponse struct {
	apiEnvelope
	Data flexString `json:"data"`
}

type searchResponse struct {
	apiEnvelope
	Data []struct {
		PaymentID   flexString  `json:"payment_id"`
		OrderID     string      `json:"order_id"`
		Date        string      `json:"date"`
		Description string      `json:"description"`
		Status      string      `json:"status"`
		Currency    string      `json:"currency"`
		Amount      json.Number `json:"amount"`
		Method      string      `json:"method"`
	} `json:"data"`
}

// flexString accepts ids PayHere sends either quoted or as bare numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		*f = ""
		return nil
	}
	*f = flexString(trimmed)
	return nil
}
