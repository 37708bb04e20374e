package dbtypes

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDArrayRoundTrip(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	value, err := UUIDArray{a, b}.Value()
	if err != nil {
		t.Fatalf("Value returned error: %v", err)
	}

	var out UUIDArray
	if err := out.Scan(value); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(out) != 2 || out[0] != a || out[1] != b {
		t.Fatalf("unexpected array %v", out)
	}
}

func TestUUIDArrayScanEmpty(t *testing.T) {
	var out UUIDArray
	if err := out.Scan("{}"); err != nil || len(out) != 0 {
		t.Fatalf("expected empty array, got %v err=%v", out, err)
	}
	if err := out.Scan(nil); err != nil || len(out) != 0 {
		t.Fatalf("expected empty array for nil, got %v err=%v", out, err)
	}
	if err := out.Scan(42); err == nil {
		t.Fatal("expected unsupported type to fail")
	}
}

func TestUUIDArrayContains(t *testing.T) {
	id := uuid.New()
	arr := UUIDArray{uuid.New(), id}
	if !arr.Contains(id) {
		t.Fatal("expected Contains to find id")
	}
	if arr.Contains(uuid.New()) {
		t.Fatal("unexpected match")
	}
}

func TestUUIDArrayValueIsPostgresLiteral(t *testing.T) {
	id := uuid.MustParse("0b6f1f3e-6c1e-4a8e-9d55-0f3a2c1d9e01")
	value, err := UUIDArray{id}.Value()
	if err != nil {
		t.Fatalf("Value returned error: %v", err)
	}
	if value != `{"0b6f1f3e-6c1e-4a8e-9d55-0f3a2c1d9e01"}` {
		t.Fatalf("unexpected literal %v", value)
	}

	empty, err := UUIDArray(nil).Value()
	if err != nil || empty != "{}" {
		t.Fatalf("expected empty literal for nil array, got %v err=%v", empty, err)
	}
}
