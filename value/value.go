// Package value defines the neutral representation of data crossing the
// boundary between the host and sandboxed Lua code.
//
// A [Value] is one of four variants: Absent, Boolean, Number or Text.
// Conversions in both directions are total: anything the host cannot
// represent becomes Absent, and Absent becomes Lua's nil.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindBoolean
	KindNumber
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable tagged datum. The zero Value is Absent.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
}

// Absent returns the empty value.
func Absent() Value { return Value{} }

// Bool returns a Boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Number returns a Number value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Text returns a Text value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsNumber returns the number held by v and whether v is a Number.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsText returns the string held by v and whether v is Text.
func (v Value) AsText() (string, bool) { return v.s, v.kind == KindText }

// AsInt returns the number held by v as an int when it is a Number with no
// fractional part that fits in an int.
func (v Value) AsInt() (int, bool) {
	if v.kind != KindNumber || v.n != math.Trunc(v.n) {
		return 0, false
	}
	if v.n < math.MinInt || v.n >= math.MaxInt {
		return 0, false
	}
	return int(v.n), true
}

// Render converts v to result text. Absent renders as the empty string and
// numbers use Lua's formatting, so 2.0 renders as "2".
func (v Value) Render() string {
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return lua.LNumber(v.n).String()
	case KindText:
		return v.s
	default:
		return ""
	}
}

// String returns a debug representation: text is quoted and Absent is nil.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return strconv.Quote(v.s)
	case KindAbsent:
		return "nil"
	default:
		return v.Render()
	}
}

// Equal reports whether v and o hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBoolean:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case KindText:
		return v.s == o.s
	default:
		return true
	}
}

// MarshalJSON encodes Absent as null. Non-finite numbers have no JSON form
// and are also encoded as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBoolean:
		return json.Marshal(v.b)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.n)
	case KindText:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	switch x := raw.(type) {
	case nil:
		*v = Absent()
	case bool:
		*v = Bool(x)
	case float64:
		*v = Number(x)
	case string:
		*v = Text(x)
	default:
		return fmt.Errorf("decode value: unsupported JSON type %T", raw)
	}
	return nil
}
