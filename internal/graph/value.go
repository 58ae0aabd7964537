package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface over the literal shapes a node input can hold.
// Only Null, String, Int, Float, Bool, Array, Object and Ref implement it.
//
// Ref is the one non-literal: a connection to another node's output slot.
// It is encoded on the wire as a two element array ["<source id>", <slot>].
type Value interface {
	graphValue() // Sealed
}

// Null represents a JSON null input.
type Null struct{}

func (Null) graphValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string literal.
type String string

func (String) graphValue() {}

// Int is an integral number literal.
type Int int64

func (Int) graphValue() {}

// Float is a non-integral number literal.
type Float float64

func (Float) graphValue() {}

// MarshalJSON rejects NaN and infinities, which JSON cannot carry.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("graph: cannot encode %v as JSON", v)
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

// Bool is a boolean literal.
type Bool bool

func (Bool) graphValue() {}

// Array is a list literal that is not a connection.
type Array []Value

func (Array) graphValue() {}

// Object is a keyed literal. Encoding sorts keys.
type Object map[string]Value

func (Object) graphValue() {}

// Ref is a connection to output slot Slot of node Source.
type Ref struct {
	Source NodeID
	Slot   int
}

func (Ref) graphValue() {}

// MarshalJSON encodes the connection in its wire form.
func (r Ref) MarshalJSON() ([]byte, error) {
	src, err := json.Marshal(string(r.Source))
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("[%s,%d]", src, r.Slot)), nil
}

// Get returns the value stored under key, if any.
func (o Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o[key]
	return v, ok
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue returns a deep copy of v. Scalars are returned as-is.
func CloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	case Object:
		return val.Clone()
	default:
		return v
	}
}

// AsRef reports whether v is a connection.
func AsRef(v Value) (Ref, bool) {
	r, ok := v.(Ref)
	return r, ok
}

// AsString returns the textual form of a string literal. Numbers and
// booleans are not coerced; callers that want loose text use Text.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// Text renders a scalar literal as text. Null, refs and containers yield "".
func Text(v Value) string {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(val))
	default:
		return ""
	}
}

// AsFloat returns the numeric value of an Int, Float or a string holding a
// number. ok is false for anything else.
func AsFloat(v Value) (float64, bool) {
	switch val := v.(type) {
	case Int:
		return float64(val), true
	case Float:
		return float64(val), true
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FromAny converts decoded YAML/JSON data into a Value. A two element slice
// whose first element is a string and second an integer becomes a Ref.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return Float(val), nil
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return Int(int64(val)), nil
		}
		return Float(val), nil
	case json.Number:
		return numberValue(val)
	case []any:
		if ref, ok := refFromSlice(val); ok {
			return ref, nil
		}
		arr := make(Array, len(val))
		for i, elem := range val {
			gv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = gv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			gv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = gv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported input type %T", v)
	}
}

// ToAny converts a Value back to plain Go data (refs become two element slices).
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Ref:
		return []any{string(val.Source), int64(val.Slot)}
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

func refFromSlice(val []any) (Ref, bool) {
	if len(val) != 2 {
		return Ref{}, false
	}
	src, ok := val[0].(string)
	if !ok {
		return Ref{}, false
	}
	var slot int64
	switch n := val[1].(type) {
	case int:
		slot = int64(n)
	case int64:
		slot = n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return Ref{}, false
		}
		slot = i
	case float64:
		if n != math.Trunc(n) {
			return Ref{}, false
		}
		slot = int64(n)
	default:
		return Ref{}, false
	}
	return Ref{Source: NodeID(src), Slot: int(slot)}, true
}

func numberValue(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Float(f), nil
}

// UnmarshalValue decodes a single JSON value.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// decodeObject decodes a JSON object into an Object. A JSON null yields nil.
func decodeObject(data []byte) (Object, error) {
	v, err := UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case Object:
		return val, nil
	case Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected object, got %T", v)
	}
}
