package cards

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenPayload is what the gateway returns after a successful preapproval.
type TokenPayload struct {
	Token        string
	MaskedNumber string
	HolderName   string
	Method       string
	ExpiryMonth  int
	ExpiryYear   int
}

// UpdateInput changes buyer-facing metadata only. Nil fields are left as is.
type UpdateInput struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=64"`
	ExpiryMonth *int    `json:"expiry_month" validate:"omitempty,min=1,max=12"`
	ExpiryYear  *int    `json:"expiry_year" validate:"omitempty,min=2000,max=2100"`
}

// ParseExpiry reads the gateway's MM/YY (or MMYY) card expiry.
func ParseExpiry(raw string) (int, int, error) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), "/", "")
	if len(value) != 4 {
		return 0, 0, fmt.Errorf("card expiry %q is not MM/YY", raw)
	}
	month, err := strconv.Atoi(value[:2])
	if err != nil {
		return 0, 0, fmt.Errorf("card expiry month: %w", err)
	}
	year, err := strconv.Atoi(value[2:])
	if err != nil {
		return 0, 0, fmt.Errorf("card expiry year: %w", err)
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("card expiry month %d out of range", month)
	}
	return month, 2000 + year, nil
}
