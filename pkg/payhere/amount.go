package payhere

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	errNegativeAmount = errors.New("amount must not be negative")
	errEmptyAmount    = errors.New("amount is required")
)

// FormatAmount renders an amount with exactly two decimals, a dot separator
// and no grouping, which is the form every PayHere signature is computed over.
func FormatAmount(v any) (string, error) {
	d, err := toDecimal(v)
	if err != nil {
		return "", err
	}
	if d.IsNegative() {
		return "", errNegativeAmount
	}
	return d.StringFixed(2), nil
}

// FormatCents renders stored minor units in the gateway format.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseCents converts a major-unit amount into minor units. Amounts with more
// than two significant decimals are rejected instead of rounded.
func ParseCents(v any) (int64, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, errNegativeAmount
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimals", d.String())
	}
	return cents.IntPart(), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int32:
		return decimal.NewFromInt32(val), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float32:
		return decimal.NewFromFloat32(val), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case decimal.Decimal:
		return val, nil
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return decimal.Zero, errEmptyAmount
		}
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount %q", val)
		}
		return d, nil
	case nil:
		return decimal.Zero, errEmptyAmount
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}
