// ABOUTME: Tests for composite key encoding
// ABOUTME: Verifies order preservation, escaping and prefix extraction

package storage

import (
	"bytes"
	"testing"
	"time"
)

func assertOrdered(t *testing.T, vals []Value) {
	t.Helper()
	for i := 0; i < len(vals)-1; i++ {
		a := EncodeValues([]Value{vals[i]})
		b := EncodeValues([]Value{vals[i+1]})
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("Order violated between index %d and %d", i, i+1)
		}
	}
}

func TestEncodeInt64Order(t *testing.T) {
	vals := []Value{
		NewInt64Value(-1000),
		NewInt64Value(-1),
		NewInt64Value(0),
		NewInt64Value(1),
		NewInt64Value(1000),
	}
	assertOrdered(t, vals)

	for _, v := range vals {
		decoded, err := DecodeValues(EncodeValues([]Value{v}))
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(decoded) != 1 || decoded[0].I64 != v.I64 {
			t.Errorf("Roundtrip failed for %d: %+v", v.I64, decoded)
		}
	}
}

func TestEncodeBytesOrder(t *testing.T) {
	assertOrdered(t, []Value{
		NewStringValue(""),
		NewStringValue("a"),
		NewStringValue("aa"),
		NewStringValue("ab"),
		NewStringValue("b"),
	})
}

func TestEncodeTimeKeepsNanoseconds(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	assertOrdered(t, []Value{
		NewTimeValue(now.Add(-time.Nanosecond)),
		NewTimeValue(now),
		NewTimeValue(now.Add(time.Hour)),
	})

	decoded, err := DecodeValues(EncodeValues([]Value{NewTimeValue(now)}))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if !decoded[0].Time.Equal(now) {
		t.Errorf("Expected %v, got %v", now, decoded[0].Time)
	}
}

func TestEncodeComposite(t *testing.T) {
	key := EncodeKey(1200, NewStringValue("member_ids"), NewStringValue("abc"), NewUint64Value(7))

	if p := ExtractPrefix(key); p != 1200 {
		t.Errorf("Expected prefix 1200, got %d", p)
	}
	vals, err := ExtractValues(key)
	if err != nil {
		t.Fatalf("Failed to extract: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("Expected 3 values, got %d", len(vals))
	}
	if vals[0].String() != "member_ids" || vals[1].String() != "abc" || vals[2].U64 != 7 {
		t.Errorf("Unexpected values: %+v", vals)
	}
}

func TestEncodeKeyPrefixProperty(t *testing.T) {
	prefix := EncodeKey(1100, NewStringValue("Book"))
	match := EncodeKey(1100, NewStringValue("Book"), NewStringValue("id-1"))
	other := EncodeKey(1100, NewStringValue("BookShelf"), NewStringValue("id-1"))

	if !bytes.HasPrefix(match, prefix) {
		t.Error("Expected full key to start with its partial key")
	}
	if bytes.HasPrefix(other, prefix) {
		t.Error("A longer string column must not match a shorter partial key")
	}
}

func TestEscapeString(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"normal string", []byte("normal")},
		{"null byte", []byte{0x00}},
		{"0xFF byte", []byte{0xFF}},
		{"escape byte", []byte{0xFE}},
		{"mixed", []byte{0x00, 0xFE, 0xFF, 'a'}},
		{"embedded null", []byte("test\x00string")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := escapeString(tt.input)
			if bytes.IndexByte(escaped, 0) >= 0 {
				t.Errorf("Escaped form of %v contains a terminator", tt.input)
			}
			if got := unescapeString(escaped); !bytes.Equal(got, tt.input) {
				t.Errorf("Roundtrip failed: %v != %v", got, tt.input)
			}

			vals, err := DecodeValues(EncodeValues([]Value{NewBytesValue(tt.input), NewInt64Value(1)}))
			if err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if !bytes.Equal(vals[0].Str, tt.input) || vals[1].I64 != 1 {
				t.Errorf("Composite roundtrip failed: %+v", vals)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"unknown kind":   {9},
		"truncated int":  {KindInt64, 1, 2},
		"unterminated":   {KindBytes, 'a', 'b'},
		"truncated time": {KindTime},
	}
	for name, data := range cases {
		if _, err := DecodeValues(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := ExtractValues([]byte{1, 2}); err == nil {
		t.Error("Expected error for short key")
	}
}
