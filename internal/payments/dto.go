package payments

import (
	"github.com/agromart/agromart-backend/internal/orders"
	"github.com/agromart/agromart-backend/pkg/db/models"
	"github.com/agromart/agromart-backend/pkg/payhere"
	"github.com/google/uuid"
)

// CreatePaymentInput asks for a signed checkout payload. Amount must equal the
// order total; Currency defaults to the order currency.
type CreatePaymentInput struct {
	OrderID  uuid.UUID
	Amount   string
	Currency string
	Actor    orders.Actor
}

// PreapproveInput starts card registration for the calling buyer. UserID is
// optional; when sent it must name the caller.
type PreapproveInput struct {
	Actor     orders.Actor
	UserID    string
	OrderID   string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	City      string
	Country   string
}

// ChargeInput charges a saved card for an order.
type ChargeInput struct {
	OrderID uuid.UUID
	CardID  uuid.UUID
	Actor   orders.Actor
}

// ChargeOutcome is the gateway answer together with the order as it stands
// afterwards. Duplicate is set when the success had already been applied by
// the notify callback.
type ChargeOutcome struct {
	Order         *models.Order      `json:"order"`
	PaymentID     string             `json:"payment_id"`
	StatusCode    payhere.StatusCode `json:"status_code"`
	StatusMessage string             `json:"status_message"`
	Duplicate     bool               `json:"duplicate"`
}

// StatusResult pairs the stored order with what the gateway has recorded for
// it, so a charge that timed out can be reconciled by hand.
type StatusResult struct {
	Order    *models.Order           `json:"order"`
	Payments []payhere.PaymentRecord `json:"gateway_payments"`
}
