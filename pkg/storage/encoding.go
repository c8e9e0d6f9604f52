// ABOUTME: Order-preserving encoding for composite keys
// ABOUTME: Encoded keys compare bytewise in the same order as their values

package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Value kinds. The tag byte is written before each value, so no encoded key
// starts with 0xFF.
const (
	KindBytes  = 1
	KindInt64  = 2
	KindUint64 = 3
	KindTime   = 4 // nanoseconds since the epoch
)

// Value is one column of a composite key.
type Value struct {
	Kind uint8
	Str  []byte
	I64  int64
	U64  uint64
	Time time.Time
}

func NewBytesValue(data []byte) Value {
	return Value{Kind: KindBytes, Str: data}
}

func NewStringValue(s string) Value {
	return Value{Kind: KindBytes, Str: []byte(s)}
}

func NewInt64Value(i int64) Value {
	return Value{Kind: KindInt64, I64: i}
}

func NewUint64Value(u uint64) Value {
	return Value{Kind: KindUint64, U64: u}
}

func NewTimeValue(t time.Time) Value {
	return Value{Kind: KindTime, Time: t}
}

// String returns the bytes of a KindBytes value as a string.
func (v Value) String() string {
	return string(v.Str)
}

func putOrdered(out []byte, u uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return append(out, buf[:]...)
}

// EncodeValues appends the order-preserving form of vals.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Kind)
		switch v.Kind {
		case KindInt64:
			// flip the sign bit so negatives sort first
			out = putOrdered(out, uint64(v.I64)+(1<<63))
		case KindUint64:
			out = putOrdered(out, v.U64)
		case KindTime:
			out = putOrdered(out, uint64(v.Time.UnixNano())+(1<<63))
		case KindBytes:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("storage: unknown value kind %d", v.Kind))
		}
	}
	return out
}

// escapeString escapes 0x00 and 0xFF so a string can be null-terminated.
// Strings holding escaped bytes keep equality and prefix matching but not
// strict order.
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0:
			out = append(out, 0xFE, 0x01)
		case 0xFE:
			out = append(out, 0xFE, 0xFE)
		case 0xFF:
			out = append(out, 0xFE, 0xFF)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			i++
			if s[i] == 0x01 {
				out = append(out, 0)
			} else {
				out = append(out, s[i])
			}
			continue
		}
		out = append(out, s[i])
	}
	return out
}

// DecodeValues reverses EncodeValues.
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	fixed := func() (uint64, error) {
		if pos+8 > len(data) {
			return 0, fmt.Errorf("storage: truncated value at %d", pos)
		}
		u := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		return u, nil
	}

	for pos < len(data) {
		kind := data[pos]
		pos++

		switch kind {
		case KindInt64:
			u, err := fixed()
			if err != nil {
				return nil, err
			}
			vals = append(vals, NewInt64Value(int64(u-(1<<63))))
		case KindUint64:
			u, err := fixed()
			if err != nil {
				return nil, err
			}
			vals = append(vals, NewUint64Value(u))
		case KindTime:
			u, err := fixed()
			if err != nil {
				return nil, err
			}
			vals = append(vals, NewTimeValue(time.Unix(0, int64(u-(1<<63))).UTC()))
		case KindBytes:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("storage: unterminated string at %d", pos)
			}
			vals = append(vals, NewBytesValue(unescapeString(data[pos:end])))
			pos = end + 1
		default:
			return nil, fmt.Errorf("storage: unknown value kind %d at %d", kind, pos-1)
		}
	}
	return vals, nil
}

// EncodeKey prepends a 4-byte table prefix to the encoded values. Encoding
// fewer values yields a key that is a byte prefix of every longer key
// sharing those values, which is what ScanPrefix relies on.
func EncodeKey(prefix uint32, vals ...Value) []byte {
	out := make([]byte, 4, 64)
	binary.BigEndian.PutUint32(out, prefix)
	return append(out, EncodeValues(vals)...)
}

// ExtractPrefix returns the table prefix of an encoded key.
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues decodes the values of an encoded key.
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("storage: key too short")
	}
	return DecodeValues(key[4:])
}
