// ABOUTME: Tests for composite key encoding
// ABOUTME: Verifies order-preserving properties and roundtrip encoding

package storage

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeInt64(t *testing.T) {
	vals := []Value{
		NewInt64Value(-1000),
		NewInt64Value(-1),
		NewInt64Value(0),
		NewInt64Value(1),
		NewInt64Value(1000),
	}

	// Encode all values
	encoded := make([][]byte, len(vals))
	for i, v := range vals {
		encoded[i] = EncodeValues([]Value{v})
	}

	// Verify ordering
	for i := 0; i < len(encoded)-1; i++ {
		if bytes.Compare(encoded[i], encoded[i+1]) >= 0 {
			t.Errorf("Order violated: %d should be < %d", vals[i].I64, vals[i+1].I64)
		}
	}

	// Verify roundtrip
	for i, enc := range encoded {
		decoded, err := DecodeValues(enc)
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(decoded) != 1 {
			t.Fatalf("Expected 1 value, got %d", len(decoded))
		}
		if decoded[0].I64 != vals[i].I64 {
			t.Errorf("Roundtrip failed: expected %d, got %d", vals[i].I64, decoded[0].I64)
		}
	}
}

func TestEncodeBytesOrderAndEscapes(t *testing.T) {
	vals := []Value{
		NewStringValue(""),
		NewStringValue("Foo"),
		NewStringValue("Foo_bar"),
		NewStringValue("Fop"),
	}

	for i := 0; i < len(vals)-1; i++ {
		a := EncodeValues([]Value{vals[i]})
		b := EncodeValues([]Value{vals[i+1]})
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("Order violated: %q should be < %q", vals[i].Str, vals[i+1].Str)
		}
	}

	// Escaped bytes inside a column must not end it early
	raw := []byte{'a', 0x00, 0xFE, 0xFF, 'b'}
	enc := EncodeValues([]Value{NewBytesValue(raw), NewInt64Value(7)})
	decoded, err := DecodeValues(enc)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("Expected 2 values, got %d", len(decoded))
	}
	if !bytes.Equal(decoded[0].Str, raw) {
		t.Errorf("Expected %v, got %v", raw, decoded[0].Str)
	}
	if decoded[1].I64 != 7 {
		t.Errorf("Expected 7, got %d", decoded[1].I64)
	}
}

func TestEncodeKeyWithPrefix(t *testing.T) {
	prefix := uint32(100)
	vals := []Value{
		NewBytesValue([]byte("test")),
		NewInt64Value(42),
	}

	encoded := EncodeKey(prefix, vals)

	if !bytes.HasPrefix(encoded, []byte{0, 0, 0, 100}) {
		t.Errorf("Expected big-endian prefix %d, got %v", prefix, encoded[:4])
	}

	// Extract values
	extractedVals, err := ExtractValues(encoded)
	if err != nil {
		t.Fatalf("Failed to extract values: %v", err)
	}

	if len(extractedVals) != len(vals) {
		t.Fatalf("Expected %d values, got %d", len(vals), len(extractedVals))
	}

	if !bytes.Equal(extractedVals[0].Str, vals[0].Str) {
		t.Errorf("Value 0 mismatch")
	}
	if extractedVals[1].I64 != vals[1].I64 {
		t.Errorf("Value 1 mismatch")
	}
}

func TestEncodeTime(t *testing.T) {
	now := time.Now()
	times := []Value{
		NewTimeValue(now.Add(-time.Hour)),
		NewTimeValue(now),
		NewTimeValue(now.Add(time.Hour)),
	}

	// Encode all times
	encoded := make([][]byte, len(times))
	for i, v := range times {
		encoded[i] = EncodeValues([]Value{v})
	}

	// Verify ordering
	for i := 0; i < len(encoded)-1; i++ {
		if bytes.Compare(encoded[i], encoded[i+1]) >= 0 {
			t.Errorf("Time order violated at index %d", i)
		}
	}

	// Verify roundtrip (note: precision is seconds)
	for i, enc := range encoded {
		decoded, err := DecodeValues(enc)
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(decoded) != 1 {
			t.Fatalf("Expected 1 value, got %d", len(decoded))
		}
		if decoded[0].Time.Unix() != times[i].Time.Unix() {
			t.Errorf("Time roundtrip failed")
		}
		if decoded[0].Time.Location() != time.UTC {
			t.Errorf("Expected UTC time, got %v", decoded[0].Time.Location())
		}
	}
}

func TestEscapeString(t *testing.T) {
	tests := []struct {
		input []byte
		name  string
	}{
		{[]byte("normal"), "normal string"},
		{[]byte{0x00}, "null byte"},
		{[]byte{0xFF}, "0xFF byte"},
		{[]byte{0x00, 0xFF}, "null and 0xFF"},
		{[]byte("test\x00string"), "embedded null"},
		{[]byte{0xFE, 0x01}, "escape byte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := escapeString(tt.input)
			unescaped := unescapeString(escaped)

			if !bytes.Equal(unescaped, tt.input) {
				t.Errorf("Escape/unescape failed for %v", tt.input)
			}
		})
	}
}

func TestPrefixEndAsStrictLowerBound(t *testing.T) {
	prefix := uint32(1)
	at := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	after := PrefixEnd(EncodeKey(prefix, []Value{NewInt64Value(1), NewTimeValue(at)}))

	same := EncodeKey(prefix, []Value{NewInt64Value(1), NewTimeValue(at), NewUint64Value(99)})
	later := EncodeKey(prefix, []Value{NewInt64Value(1), NewTimeValue(at.Add(time.Second)), NewUint64Value(0)})

	if bytes.Compare(same, after) >= 0 {
		t.Error("Expected entries at the bound to sort before it")
	}
	if bytes.Compare(later, after) < 0 {
		t.Error("Expected entries one second later to sort at or after the bound")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"unterminated bytes": {byte(KindBytes), 'a', 'b'},
		"truncated int":      {byte(KindInt64), 0, 0, 0},
		"unknown kind":       {9, 0, 0, 0, 0, 0, 0, 0, 0},
	}
	for name, data := range cases {
		if _, err := DecodeValues(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := ExtractValues([]byte{1, 2}); err == nil {
		t.Error("Expected error for key shorter than its prefix")
	}
}

func TestPrefixEnd(t *testing.T) {
	prefix := EncodeKey(42, []Value{NewInt64Value(1)})
	end := PrefixEnd(prefix)

	inside := EncodeKey(42, []Value{NewInt64Value(1), NewStringValue("zzz")})
	outside := EncodeKey(42, []Value{NewInt64Value(2)})

	if bytes.Compare(inside, end) >= 0 {
		t.Error("Expected key with prefix to sort before PrefixEnd")
	}
	if bytes.Compare(outside, end) < 0 {
		t.Error("Expected next column value to sort at or after PrefixEnd")
	}

	if got := PrefixEnd([]byte{0xFF, 0xFF}); got != nil {
		t.Errorf("Expected nil for all-0xFF prefix, got %v", got)
	}
	if got := PrefixEnd([]byte{0x01, 0xFF}); !bytes.Equal(got, []byte{0x02}) {
		t.Errorf("Expected [2], got %v", got)
	}
}
