// Package enums holds the closed string sets shared by the HTTP layer, the
// Postgres enum types and the outbox.
package enums

import (
	"fmt"
	"slices"
	"strings"
)

func oneOf[T ~string](set []T, v T) bool {
	return slices.Contains(set, v)
}

// parse matches raw against set. norm, when set, canonicalises the input first.
func parse[T ~string](set []T, kind, raw string, norm func(string) string) (T, error) {
	v := raw
	if norm != nil {
		v = norm(raw)
	}
	if i := slices.Index(set, T(v)); i >= 0 {
		return set[i], nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}

func upperTrim(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
