package payhere

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  string
	}{
		{name: "int", input: 10, want: "10.00"},
		{name: "int64", input: int64(2500), want: "2500.00"},
		{name: "float one decimal", input: 10.5, want: "10.50"},
		{name: "string two decimals", input: "10.00", want: "10.00"},
		{name: "string padded", input: " 7.1 ", want: "7.10"},
		{name: "no grouping", input: 1234567.891, want: "1234567.89"},
		{name: "decimal", input: decimal.RequireFromString("99.999"), want: "100.00"},
		{name: "zero", input: 0, want: "0.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FormatAmount(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("FormatAmount(%v) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestFormatAmountRejectsInvalid(t *testing.T) {
	for _, input := range []any{"", "abc", "10,00", -1, nil, []byte("10")} {
		if _, err := FormatAmount(input); err == nil {
			t.Fatalf("expected error for %#v", input)
		}
	}
}

func TestFormatCents(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00",
		5:      "0.05",
		1050:   "10.50",
		250000: "2500.00",
	}
	for cents, want := range cases {
		if got := FormatCents(cents); got != want {
			t.Fatalf("FormatCents(%d) = %q, want %q", cents, got, want)
		}
	}
}

func TestParseCents(t *testing.T) {
	got, err := ParseCents("2500.00")
	if err != nil || got != 250000 {
		t.Fatalf("expected 250000, got %d (%v)", got, err)
	}
	got, err = ParseCents(10.5)
	if err != nil || got != 1050 {
		t.Fatalf("expected 1050, got %d (%v)", got, err)
	}
	if _, err := ParseCents("10.005"); err == nil {
		t.Fatalf("expected error for sub-cent precision")
	}
	if _, err := ParseCents("-1"); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}
