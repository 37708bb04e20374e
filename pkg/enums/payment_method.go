package enums

// PaymentMethod is how a buyer intends to settle an order.
type PaymentMethod string

const (
	PaymentMethodPayHere        PaymentMethod = "payhere"
	PaymentMethodSavedCard      PaymentMethod = "saved_card"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

var paymentMethods = []PaymentMethod{PaymentMethodPayHere, PaymentMethodSavedCard, PaymentMethodCashOnDelivery}

func (p PaymentMethod) String() string { return string(p) }

func (p PaymentMethod) IsValid() bool { return oneOf(paymentMethods, p) }

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return parse(paymentMethods, "payment method", value, nil)
}
