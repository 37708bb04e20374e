package payhere

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agromart/agromart-backend/pkg/config"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
	"github.com/agromart/agromart-backend/pkg/logger"
)

const (
	sandboxBaseURL = "https://sandbox.payhere.lk"
	liveBaseURL    = "https://www.payhere.lk"

	checkoutPath    = "/pay/checkout"
	preapprovePath  = "/pay/preapprove"
	tokenPath       = "/merchant/v1/oauth/token"
	chargePath      = "/merchant/v1/payment/charge"
	refundPath      = "/merchant/v1/payment/refund"
	searchPath      = "/merchant/v1/payment/search"
	defaultTimeout  = 15 * time.Second
	tokenExpirySkew = time.Minute
	maxResponseBody = 1 << 20
	defaultCountry  = "Sri Lanka"
	preapproveItems = "Card registration"
)

var (
	errLoggerRequired = errors.New("payhere logger is required")

	// ErrTokenRevocationUnsupported is returned because PayHere exposes no
	// endpoint to revoke a customer token.
	ErrTokenRevocationUnsupported = errors.New("payhere does not support token revocation")
)

// Metrics receives timing for every outbound API call.
type Metrics interface {
	ObserveGatewayCall(operation string, duration time.Duration, err error)
}

// Client wraps the PayHere checkout signing and merchant API.
type Client struct {
	merchantID string
	hasSecret  bool
	appID      string
	appSecret  string
	sandbox    bool
	baseURL    string
	returnURL  string
	cancelURL  string
	notifyURL  string
	currency   string

	signer  Signer
	http    *http.Client
	logger  *logger.Logger
	metrics Metrics
	now     func() time.Time

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the default bounded-timeout HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSigner substitutes the signature scheme.
func WithSigner(s Signer) Option {
	return func(c *Client) {
		if s != nil {
			c.signer = s
		}
	}
}

// WithMetrics attaches a gateway call recorder.
func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds a PayHere client. Missing merchant credentials are not an
// error here; operations that need them fail with CONFIGURATION_ERROR.
func NewClient(cfg config.PayHereConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = liveBaseURL
		if cfg.Sandbox {
			baseURL = sandboxBaseURL
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "LKR"
	}

	c := &Client{
		merchantID: strings.TrimSpace(cfg.MerchantID),
		hasSecret:  strings.TrimSpace(cfg.MerchantSecret) != "",
		appID:      strings.TrimSpace(cfg.AppID),
		appSecret:  strings.TrimSpace(cfg.AppSecret),
		sandbox:    cfg.Sandbox,
		baseURL:    baseURL,
		returnURL:  cfg.ReturnURL,
		cancelURL:  cfg.CancelURL,
		notifyURL:  cfg.NotifyURL,
		currency:   currency,
		signer:     NewHasher(strings.TrimSpace(cfg.MerchantSecret)),
		http:       &http.Client{Timeout: timeout},
		logger:     logg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MerchantID returns the configured merchant id.
func (c *Client) MerchantID() string {
	if c == nil {
		return ""
	}
	return c.merchantID
}

// Signer exposes the signature scheme so webhook verification uses the same secret.
func (c *Client) Signer() Signer {
	if c == nil {
		return nil
	}
	return c.signer
}

func (c *Client) requireMerchant() error {
	if c.merchantID == "" || !c.hasSecret {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "payhere merchant credentials are not configured")
	}
	return nil
}

func (c *Client) requireAPI() error {
	if err := c.requireMerchant(); err != nil {
		return err
	}
	if c.appID == "" || c.appSecret == "" {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "payhere merchant api credentials are not configured")
	}
	return nil
}

// CreatePaymentRequest signs a checkout payload. It performs no I/O.
func (c *Client) CreatePaymentRequest(orderID string, amount any, currency string) (*PaymentRequest, error) {
	if err := c.requireMerchant(); err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	missing := []string{}
	if orderID == "" {
		missing = append(missing, "order_id")
	}
	if amount == nil {
		missing = append(missing, "amount")
	}
	if currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "missing required fields").
			WithDetails(map[string]any{"missing": missing})
	}
	formatted, err := FormatAmount(amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}

	return &PaymentRequest{
		MerchantID:  c.merchantID,
		OrderID:     orderID,
		Amount:      formatted,
		Currency:    currency,
		Hash:        CheckoutHash(c.signer, c.merchantID, orderID, formatted, currency),
		CheckoutURL: c.baseURL + checkoutPath,
		ReturnURL:   c.returnURL,
		CancelURL:   c.cancelURL,
		NotifyURL:   c.notifyURL,
		Sandbox:     c.sandbox,
	}, nil
}

// StartPreapproval builds the signed hidden-form for registering a card.
// custom_1 carries the buyer id so the notify callback can attribute the token.
func (c *Client) StartPreapproval(profile BuyerProfile, orderID string) (*Preapproval, error) {
	if err := c.requireMerchant(); err != nil {
		return nil, err
	}
	missing := profile.missing()
	if strings.TrimSpace(orderID) == "" {
		missing = append(missing, "order_id")
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "missing required fields").
			WithDetails(map[string]any{"missing": missing})
	}
	country := strings.TrimSpace(profile.Country)
	if country == "" {
		country = defaultCountry
	}
	amount := FormatCents(0)
	orderID = strings.TrimSpace(orderID)

	params := map[string]string{
		"merchant_id": c.merchantID,
		"return_url":  c.returnURL,
		"cancel_url":  c.cancelURL,
		"notify_url":  c.notifyURL,
		"first_name":  profile.FirstName,
		"last_name":   profile.LastName,
		"email":       profile.Email,
		"phone":       profile.Phone,
		"address":     profile.Address,
		"city":        profile.City,
		"country":     country,
		"order_id":    orderID,
		"items":       preapproveItems,
		"currency":    c.currency,
		"amount":      amount,
		"custom_1":    profile.UserID,
		"hash":        CheckoutHash(c.signer, c.merchantID, orderID, amount, c.currency),
	}
	return &Preapproval{URL: c.baseURL + preapprovePath, Params: params}, nil
}

// ChargeToken charges a stored customer token. Never retried: a timeout may
// still have captured funds, which the notify callback will report.
func (c *Client) ChargeToken(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := c.requireAPI(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.OrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token and order id are required")
	}
	amount, err := FormatAmount(req.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.currency
	}
	items := strings.TrimSpace(req.Description)
	if items == "" {
		items = fmt.Sprintf("Order %s", req.OrderID)
	}

	body := chargeBody{
		Type:          "PAYMENT",
		OrderID:       req.OrderID,
		Items:         items,
		Currency:      currency,
		Amount:        json.Number(amount),
		CustomerToken: req.Token,
		Custom1:       req.Custom1,
		NotifyURL:     c.notifyURL,
	}
	var resp chargeResponse
	if err := c.callAPI(ctx, "charge", http.MethodPost, chargePath, body, &resp, false); err != nil {
		return nil, err
	}
	if resp.Status != 1 || resp.Data == nil {
		return nil, gatewayRejected("charge", resp.apiEnvelope)
	}
	return &ChargeResult{
		StatusCode:    StatusCode(resp.Data.StatusCode),
		StatusMessage: resp.Data.StatusMessage,
		PaymentID:     string(resp.Data.PaymentID),
		OrderID:       resp.Data.OrderID,
		Amount:        amount,
		Currency:      currency,
	}, nil
}

// Refund submits a signed refund for a captured payment. Retried once on a
// transport failure; gateway rejections are returned as-is.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if err := c.requireAPI(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	amount, err := FormatAmount(req.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.currency
	}
	description := strings.TrimSpace(req.Reason)
	if description == "" {
		description = "Order refund"
	}

	body := refundBody{
		PaymentID:   req.PaymentID,
		Description: description,
		MerchantID:  c.merchantID,
		OrderID:     req.OrderID,
		Amount:      json.Number(amount),
		Currency:    currency,
		Hash:        CheckoutHash(c.signer, c.merchantID, req.OrderID, amount, currency),
	}
	var resp refundResponse
	if err := c.callAPI(ctx, "refund", http.MethodPost, refundPath, body, &resp, true); err != nil {
		return nil, err
	}
	if resp.Status != 1 {
		return nil, gatewayRejected("refund", resp.apiEnvelope)
	}
	return &RefundResult{RefundID: string(resp.Data), Message: resp.Msg}, nil
}

// RetrievePayment queries the payments recorded for a gateway order id.
func (c *Client) RetrievePayment(ctx context.Context, orderID string) ([]PaymentRecord, error) {
	if err := c.requireAPI(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	path := searchPath + "?" + url.Values{"order_id": []string{orderID}}.Encode()
	var resp searchResponse
	if err := c.callAPI(ctx, "retrieve", http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	if resp.Status != 1 {
		return nil, gatewayRejected("retrieve", resp.apiEnvelope)
	}
	out := make([]PaymentRecord, 0, len(resp.Data))
	for _, row := range resp.Data {
		out = append(out, PaymentRecord{
			PaymentID:   string(row.PaymentID),
			OrderID:     row.OrderID,
			Status:      row.Status,
			Currency:    row.Currency,
			Amount:      row.Amount.String(),
			Description: row.Description,
			Method:      row.Method,
			Date:        row.Date,
		})
	}
	return out, nil
}

// RevokeToken always reports ErrTokenRevocationUnsupported.
func (c *Client) RevokeToken(ctx context.Context, token string) error {
	c.log(ctx, "request", "revoke_token", map[string]any{"token": token})
	return ErrTokenRevocationUnsupported
}

func (c *Client) callAPI(ctx context.Context, op, method, path string, body any, out any, retryTransport bool) (err error) {
	start := c.now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveGatewayCall(op, c.now().Sub(start), err)
		}
	}()

	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payhere request")
		}
	}

	c.log(ctx, "request", op, map[string]any{"path": path})
	attempts := 1
	if retryTransport {
		attempts = 2
	}
	var resp *http.Response
	for attempt := 1; attempt <= attempts; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if reqErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, reqErr, "build payhere request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err = c.http.Do(req)
		if err == nil {
			break
		}
		c.log(ctx, "error", op, map[string]any{"error": err.Error(), "attempt": attempt})
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("payhere %s unreachable", op))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("read payhere %s response", op))
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}
	if resp.StatusCode >= 300 {
		var env apiEnvelope
		_ = json.Unmarshal(raw, &env)
		err = pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("payhere %s failed", op)).
			WithDetails(map[string]any{
				"http_status":     resp.StatusCode,
				"gateway_status":  env.Status,
				"gateway_message": env.Msg,
			})
		c.log(ctx, "error", op, map[string]any{"error": err.Error(), "http_status": resp.StatusCode})
		return err
	}
	if err = json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("decode payhere %s response", op))
	}
	c.log(ctx, "response", op, map[string]any{"http_status": resp.StatusCode})
	return nil
}

// token returns a cached OAuth access token, refreshing it shortly before expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": []string{"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payhere token request")
	}
	req.SetBasicAuth(c.appID, c.appSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payhere token endpoint unreachable")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "read payhere token response")
	}
	if resp.StatusCode >= 300 {
		return "", pkgerrors.New(pkgerrors.CodeGateway, "payhere token request rejected").
			WithDetails(map[string]any{"http_status": resp.StatusCode})
	}
	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeGateway, "payhere token response missing access_token")
	}
	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= tokenExpirySkew {
		ttl = 2 * tokenExpirySkew
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenExpirySkew)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

func gatewayRejected(op string, env apiEnvelope) error {
	return pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("payhere %s rejected", op)).
		WithDetails(map[string]any{
			"gateway_status":  env.Status,
			"gateway_message": env.Msg,
		})
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Warn(ctx, fmt.Sprintf("payhere %s failed", op))
	default:
		c.logger.Debug(ctx, fmt.Sprintf("payhere %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "token", "secret", "hash", "md5sig", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
