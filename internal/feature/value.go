// Package feature holds the in-memory vector dataset model: attribute
// values, records and collections sharing one CRS.
package feature

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindNaN
	KindBool
	KindNumber
	KindString
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNaN:
		return "nan"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindComposite:
		return "composite"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single attribute value. It is comparable and normalised at
// construction (NaN has its own kind, -0 is 0) so it can key a map directly.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Number(f float64) Value {
	if math.IsNaN(f) {
		return Value{kind: KindNaN}
	}
	if f == 0 {
		f = 0 // drops the sign of -0
	}
	return Value{kind: KindNumber, n: f}
}

// Composite wraps a non-scalar value by its canonical text form.
func Composite(canonical string) Value { return Value{kind: KindComposite, s: canonical} }

// FromAny converts a decoded JSON/property value.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	default:
		// encoding/json sorts map keys, so equal objects share one form
		b, err := json.Marshal(t)
		if err != nil {
			return Composite(fmt.Sprint(t))
		}
		return Composite(string(b))
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }

func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Equal is exact equality on the raw value: kinds must match and NaN
// never equals anything.
func (v Value) Equal(o Value) bool {
	if v.kind == KindNaN || o.kind == KindNaN {
		return false
	}
	return v == o
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindNaN:
		return "NaN"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	default:
		return v.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNaN:
		return []byte(`"NaN"`), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	case KindNumber:
		if math.IsInf(v.n, 0) {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindComposite:
		if json.Valid([]byte(v.s)) {
			return []byte(v.s), nil
		}
		return json.Marshal(v.s)
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %d", v.kind)
	}
}

// Compare orders values: null < NaN < bool < number < string < composite,
// then by natural order within a kind.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindNumber:
		switch {
		case a.n < b.n:
			return -1
		case a.n > b.n:
			return 1
		default:
			return 0
		}
	case KindString, KindComposite:
		return strings.Compare(a.s, b.s)
	default:
		return 0
	}
}
