package typeregistry_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/typeregistry"
)

func TestRegistry_DecodeBuiltins(t *testing.T) {
	r := typeregistry.New()

	tests := []struct {
		name string
		oid  uint32
		raw  string
		want any
	}{
		{"bool true", typeregistry.OIDBool, "t", true},
		{"bool false", typeregistry.OIDBool, "f", false},
		{"int4", typeregistry.OIDInt4, "42", int64(42)},
		{"int8", typeregistry.OIDInt8, "9000000000", int64(9000000000)},
		{"text", typeregistry.OIDText, "hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Decode(tt.oid, -1, tt.name, []byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestRegistry_DecodeNull(t *testing.T) {
	r := typeregistry.New()
	got, err := r.Decode(typeregistry.OIDInt4, -1, "n", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestRegistry_DecodeNumeric(t *testing.T) {
	r := typeregistry.New()
	got, err := r.Decode(typeregistry.OIDNumeric, -1, "price", []byte("19.99"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	dec, ok := got.(interface{ String() string })
	if !ok {
		t.Fatalf("got %T, want something with String()", got)
	}
	if dec.String() != "19.99" {
		t.Fatalf("got %v, want 19.99", dec)
	}
}

func TestRegistry_DecodeTimestamptz(t *testing.T) {
	r := typeregistry.New()
	got, err := r.Decode(typeregistry.OIDTimestamptz, -1, "created_at", []byte("2024-01-15 10:30:00.123456+00"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("got %T, want time.Time", got)
	}
	if ts.Year() != 2024 || ts.Month() != time.January || ts.Day() != 15 {
		t.Fatalf("got %v, unexpected date", ts)
	}
}

func TestRegistry_DecodeUUID(t *testing.T) {
	r := typeregistry.New()
	want := uuid.New()
	got, err := r.Decode(typeregistry.OIDUUID, -1, "id", []byte(want.String()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	id, ok := got.(uuid.UUID)
	if !ok {
		t.Fatalf("got %T, want uuid.UUID", got)
	}
	if id != want {
		t.Fatalf("got %v, want %v", id, want)
	}
}

func TestRegistry_UnregisteredOIDFallsBackToString(t *testing.T) {
	r := typeregistry.New()
	got, err := r.Decode(99999, -1, "weird", []byte("raw-value"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "raw-value" {
		t.Fatalf("got %v, want raw-value", got)
	}
}

func TestRegistry_Override(t *testing.T) {
	r := typeregistry.New()
	r.Override(99999, func(_ int32, _ string, raw []byte) (any, error) {
		return "overridden:" + string(raw), nil
	})
	got, err := r.Decode(99999, -1, "custom", []byte("x"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "overridden:x" {
		t.Fatalf("got %v, want overridden:x", got)
	}
}
