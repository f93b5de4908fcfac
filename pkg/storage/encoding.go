// ABOUTME: Order-preserving encoding for composite keys and small records
// ABOUTME: Keys sort bytewise in the same order as their typed columns

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Kind tags each encoded column. Tags stay below 0xFF so PrefixEnd can
// always form an upper bound.
type Kind uint8

const (
	KindBytes  Kind = 1
	KindInt64  Kind = 2
	KindUint64 Kind = 3
	// KindTime holds whole Unix seconds
	KindTime Kind = 4
)

const (
	prefixLen = 4
	fixedLen  = 8

	escapeByte = 0xFE
	terminator = 0x00
	signFlip   = uint64(1) << 63
)

var errShortKey = errors.New("key shorter than its prefix")

// Value is one typed column. Only the field matching Type is meaningful.
type Value struct {
	Type Kind
	Str  []byte
	I64  int64
	U64  uint64
	Time time.Time
}

func NewBytesValue(data []byte) Value { return Value{Type: KindBytes, Str: data} }

func NewStringValue(s string) Value { return NewBytesValue([]byte(s)) }

func NewInt64Value(i int64) Value { return Value{Type: KindInt64, I64: i} }

func NewUint64Value(u uint64) Value { return Value{Type: KindUint64, U64: u} }

func NewTimeValue(t time.Time) Value { return Value{Type: KindTime, Time: t} }

// Bool stores a flag as 0 or 1
func Bool(b bool) Value {
	if b {
		return NewUint64Value(1)
	}
	return NewUint64Value(0)
}

// EncodeValues writes each column as its tag followed by its body. Signed
// numbers have the sign bit flipped so negatives sort first; byte strings
// are escaped and end with a zero byte.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 16*len(vals))
	for _, v := range vals {
		out = append(out, byte(v.Type))
		switch v.Type {
		case KindInt64:
			out = binary.BigEndian.AppendUint64(out, uint64(v.I64)+signFlip)
		case KindUint64:
			out = binary.BigEndian.AppendUint64(out, v.U64)
		case KindTime:
			out = binary.BigEndian.AppendUint64(out, uint64(v.Time.Unix())+signFlip)
		case KindBytes:
			out = appendEscaped(out, v.Str)
			out = append(out, terminator)
		default:
			panic(fmt.Sprintf("storage: cannot encode column kind %d", v.Type))
		}
	}
	return out
}

// appendEscaped prefixes 0x00, 0xFE and 0xFF with the escape byte so a
// string never contains a bare terminator and never reads as a bound
func appendEscaped(out, s []byte) []byte {
	for _, b := range s {
		switch b {
		case terminator, escapeByte, 0xFF:
			out = append(out, escapeByte, b)
		default:
			out = append(out, b)
		}
	}
	return out
}

func escapeString(s []byte) []byte {
	return appendEscaped(make([]byte, 0, len(s)), s)
}

func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == escapeByte && i+1 < len(s) {
			i++
		}
		out = append(out, s[i])
	}
	return out
}

// DecodeValues parses columns written by EncodeValues
func DecodeValues(data []byte) ([]Value, error) {
	var vals []Value
	for pos := 0; pos < len(data); {
		kind := Kind(data[pos])
		pos++

		if kind == KindBytes {
			end := pos
			for end < len(data) && data[end] != terminator {
				if data[end] == escapeByte {
					end++
				}
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("decode: unterminated bytes column at offset %d", pos)
			}
			vals = append(vals, NewBytesValue(unescapeString(data[pos:end])))
			pos = end + 1
			continue
		}

		if pos+fixedLen > len(data) {
			return nil, fmt.Errorf("decode: truncated column of kind %d at offset %d", kind, pos)
		}
		u := binary.BigEndian.Uint64(data[pos : pos+fixedLen])
		pos += fixedLen

		switch kind {
		case KindInt64:
			vals = append(vals, NewInt64Value(int64(u-signFlip)))
		case KindUint64:
			vals = append(vals, NewUint64Value(u))
		case KindTime:
			vals = append(vals, NewTimeValue(time.Unix(int64(u-signFlip), 0).UTC()))
		default:
			return nil, fmt.Errorf("decode: unknown column kind %d at offset %d", kind, pos-fixedLen-1)
		}
	}
	return vals, nil
}

// EncodeKey writes a big-endian table prefix followed by the columns
func EncodeKey(prefix uint32, vals []Value) []byte {
	out := binary.BigEndian.AppendUint32(make([]byte, 0, prefixLen+16*len(vals)), prefix)
	return append(out, EncodeValues(vals)...)
}

// ExtractValues decodes the columns of a key built by EncodeKey
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < prefixLen {
		return nil, errShortKey
	}
	return DecodeValues(key[prefixLen:])
}
