package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 123456789, time.UTC), ID: uuid.New()}
	out, err := ParseCursor(in.Encode())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ID != in.ID {
		t.Fatalf("cursor mismatch: %+v vs %+v", out, in)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); c != nil || err != nil {
		t.Fatalf("empty token should mean first page, got %v %v", c, err)
	}
	for _, token := range []string{"%%%", "bm8tcGlwZQ", "eHx5"} {
		if _, err := ParseCursor(token); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("expected ErrInvalidCursor for %q, got %v", token, err)
		}
	}
}

func TestTrim(t *testing.T) {
	rows := make([]int, 4)
	page, more := Trim(rows, 3)
	if len(page) != 3 || !more {
		t.Fatalf("expected trimmed page, got %d more=%v", len(page), more)
	}
	page, more = Trim(rows[:2], 3)
	if len(page) != 2 || more {
		t.Fatalf("expected last page, got %d more=%v", len(page), more)
	}
	if NormalizeLimit(0) != DefaultLimit || NormalizeLimit(1000) != MaxLimit {
		t.Fatal("unexpected limit normalization")
	}
}
