// Package typeregistry decodes a column's raw wire-format bytes into a Go
// value given the PostgreSQL OID and type modifier the backend reported for
// it. It is a pure collaborator: internal/adapter consults it once per
// column per row and has no OID knowledge of its own (spec.md §6/§9 — no
// global registration side effects at init() time, built and passed in
// explicitly at adapter construction).
package typeregistry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Well-known built-in OIDs this registry decodes by default. These match
// PostgreSQL's pg_type catalog and never change across server versions.
const (
	OIDBool        uint32 = 16
	OIDInt8        uint32 = 20
	OIDInt4        uint32 = 23
	OIDText        uint32 = 25
	OIDVarchar     uint32 = 1043
	OIDTimestamp   uint32 = 1114
	OIDTimestamptz uint32 = 1184
	OIDNumeric     uint32 = 1700
	OIDUUID        uint32 = 2950
)

// Decoder turns a column's raw text-format bytes into a Go value. modifier is
// the type's atttypmod (e.g. numeric precision/scale); columnName is passed
// through for decoders that want it in an error message.
type Decoder func(modifier int32, columnName string, raw []byte) (any, error)

// Registry maps an OID to the Decoder responsible for it. A column whose OID
// has no registered Decoder is returned as a raw string, never an error —
// an adapter consumer can always fall back to parsing it itself.
type Registry struct {
	decoders map[uint32]Decoder
}

// New returns a Registry pre-populated with decoders for the common built-in
// types. Callers needing a domain-specific type (a custom enum, a PostGIS
// geometry) add it with Override.
func New() *Registry {
	r := &Registry{decoders: make(map[uint32]Decoder, 8)}
	r.Override(OIDBool, decodeBool)
	r.Override(OIDInt4, decodeInt)
	r.Override(OIDInt8, decodeInt)
	r.Override(OIDText, decodeText)
	r.Override(OIDVarchar, decodeText)
	r.Override(OIDTimestamp, decodeTimestamp(false))
	r.Override(OIDTimestamptz, decodeTimestamp(true))
	r.Override(OIDNumeric, decodeNumeric)
	r.Override(OIDUUID, decodeUUID)
	return r
}

// Override registers (or replaces) the Decoder for oid.
func (r *Registry) Override(oid uint32, dec Decoder) {
	r.decoders[oid] = dec
}

// Decode decodes raw according to oid's registered Decoder. raw == nil
// decodes to a Go nil regardless of oid, matching a SQL NULL. An
// unregistered oid falls back to the raw bytes as a string.
func (r *Registry) Decode(oid uint32, modifier int32, columnName string, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	dec, ok := r.decoders[oid]
	if !ok {
		return string(raw), nil
	}
	v, err := dec(modifier, columnName, raw)
	if err != nil {
		return nil, fmt.Errorf("typeregistry: decode column %q (oid=%d): %w", columnName, oid, err)
	}
	return v, nil
}

func decodeBool(_ int32, _ string, raw []byte) (any, error) {
	return len(raw) > 0 && (raw[0] == 't' || raw[0] == 'T'), nil
}

func decodeInt(_ int32, _ string, raw []byte) (any, error) {
	return strconv.ParseInt(string(raw), 10, 64)
}

func decodeText(_ int32, _ string, raw []byte) (any, error) {
	return string(raw), nil
}

func decodeNumeric(_ int32, _ string, raw []byte) (any, error) {
	return decimal.NewFromString(string(raw))
}

func decodeUUID(_ int32, _ string, raw []byte) (any, error) {
	return uuid.Parse(string(raw))
}

// decodeTimestamp returns a Decoder for timestamp/timestamptz text-format
// values, which PostgreSQL renders as "2006-01-02 15:04:05.999999-07" (with
// the zone offset present only for timestamptz).
func decodeTimestamp(hasZone bool) Decoder {
	layout := "2006-01-02 15:04:05.999999"
	if hasZone {
		layout += "-07"
	}
	return func(_ int32, columnName string, raw []byte) (any, error) {
		s := strings.TrimSuffix(string(raw), " BC")
		t, err := time.Parse(layout, s)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", columnName, err)
		}
		return t, nil
	}
}
