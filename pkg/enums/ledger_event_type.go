package enums

// LedgerEventType is the kind of money movement a ledger row records.
type LedgerEventType string

const (
	LedgerEventTypePaymentConfirmed LedgerEventType = "payment_confirmed"
	LedgerEventTypePaymentFailed    LedgerEventType = "payment_failed"
	LedgerEventTypeRefund           LedgerEventType = "refund"
)

func (t LedgerEventType) IsValid() bool {
	switch t {
	case LedgerEventTypePaymentConfirmed, LedgerEventTypePaymentFailed, LedgerEventTypeRefund:
		return true
	}
	return false
}
