package redis

import "strings"

// Every key lives under agm:<kind>:...
const (
	keyNamespace      = "agm"
	idempotencyPrefix = "idempotency"
	lockPrefix        = "lock"
	refundPrefix      = "refund"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

// RefundSubmissionKey marks an order whose refund was sent to the gateway.
func (c *Client) RefundSubmissionKey(orderID string) string {
	return buildKey(refundPrefix, "submitted", orderID)
}

// buildKey joins the non-empty parts under the namespace.
func buildKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
