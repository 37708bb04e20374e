package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes recorded on payhere_webhook_total.
const (
	WebhookAccepted          = "accepted"
	WebhookDuplicate         = "duplicate"
	WebhookPending           = "pending"
	WebhookChargeback        = "chargeback"
	WebhookSignatureMismatch = "signature_mismatch"
	WebhookAmountMismatch    = "amount_mismatch"
	WebhookRejected          = "rejected"
	WebhookError             = "error"
)

// PaymentMetrics covers gateway calls, webhook outcomes and order transitions.
type PaymentMetrics struct {
	webhooks        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	refunds         *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payhere_webhook_total",
		Help: "PayHere notifications by processing outcome.",
	}, []string{"outcome"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payhere_gateway_request_duration_seconds",
		Help:    "Duration of outbound PayHere API calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	gatewayErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payhere_gateway_errors_total",
		Help: "Failed outbound PayHere API calls.",
	}, []string{"operation"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Accepted order status transitions.",
	}, []string{"from", "to", "role"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_refunds_total",
		Help: "Refund attempts by result.",
	}, []string{"result"})
	reg.MustRegister(webhooks, gatewayDuration, gatewayErrors, transitions, refunds)
	return &PaymentMetrics{
		webhooks:        webhooks,
		gatewayDuration: gatewayDuration,
		gatewayErrors:   gatewayErrors,
		transitions:     transitions,
		refunds:         refunds,
	}
}

// IncWebhook counts one notification with the given outcome.
func (m *PaymentMetrics) IncWebhook(outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveGatewayCall records the duration of a gateway call and counts failures.
func (m *PaymentMetrics) ObserveGatewayCall(operation string, duration time.Duration, err error) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	op := normalizeLabel(operation)
	m.gatewayDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		m.gatewayErrors.WithLabelValues(op).Inc()
	}
}

// IncTransition counts an accepted status transition.
func (m *PaymentMetrics) IncTransition(from, to, role string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(role)).Inc()
}

// IncRefund counts a refund attempt by result (succeeded, rejected, gateway_error).
func (m *PaymentMetrics) IncRefund(result string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
