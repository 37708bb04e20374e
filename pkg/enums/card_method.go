package enums

// CardMethod is the card scheme the gateway reports for a stored token.
type CardMethod string

const (
	CardMethodVisa     CardMethod = "VISA"
	CardMethodMaster   CardMethod = "MASTER"
	CardMethodAmex     CardMethod = "AMEX"
	CardMethodDiscover CardMethod = "DISCOVER"
	CardMethodDiners   CardMethod = "DINERS"
)

var cardMethods = []CardMethod{CardMethodVisa, CardMethodMaster, CardMethodAmex, CardMethodDiscover, CardMethodDiners}

func (m CardMethod) String() string { return string(m) }

func (m CardMethod) IsValid() bool { return oneOf(cardMethods, m) }

// ParseCardMethod accepts the scheme in any case; PayHere has sent both.
func ParseCardMethod(value string) (CardMethod, error) {
	return parse(cardMethods, "card method", value, upperTrim)
}
