package enums

// Currency is an ISO 4217 code PayHere settles in.
type Currency string

const (
	CurrencyLKR Currency = "LKR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	CurrencyEUR Currency = "EUR"
	CurrencyAUD Currency = "AUD"
)

var currencies = []Currency{CurrencyLKR, CurrencyUSD, CurrencyGBP, CurrencyEUR, CurrencyAUD}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool { return oneOf(currencies, c) }

// ParseCurrency trims and upper-cases before matching.
func ParseCurrency(value string) (Currency, error) {
	return parse(currencies, "currency", value, upperTrim)
}
