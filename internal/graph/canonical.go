package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces the canonical encoding of a graph used for
// fingerprinting: node ids and object keys sorted by UTF-16 code units,
// strings NFC-normalized, no HTML escaping.
//
// Two graphs that differ only in node order or input key order have the
// same canonical form.
func MarshalCanonical(g *Graph) ([]byte, error) {
	return MarshalCanonicalValue(g.Object())
}

// Object returns g as a value keyed by node id. Extra node fields are
// dropped; the result shares no maps with g.
func (g *Graph) Object() Object {
	out := make(Object, g.Len())
	for _, id := range g.order {
		n := g.nodes[id]
		obj := Object{
			"class_type": String(n.ClassType),
			"inputs":     nonNil(n.Inputs.Clone()),
		}
		if n.Meta != nil {
			obj["_meta"] = n.Meta.Clone()
		}
		if n.Properties != nil {
			obj["properties"] = n.Properties.Clone()
		}
		out[string(id)] = obj
	}
	return out
}

// MarshalCanonicalValue produces the canonical encoding of a single value.
func MarshalCanonicalValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func nonNil(o Object) Object {
	if o == nil {
		return Object{}
	}
	return o
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		return writeCanonicalString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite number %v", f)
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case Ref:
		buf.WriteByte('[')
		if err := writeCanonicalString(buf, string(val.Source)); err != nil {
			return err
		}
		buf.WriteByte(',')
		buf.WriteString(strconv.Itoa(val.Slot))
		buf.WriteByte(']')
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareKeysUTF16)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// compareKeysUTF16 orders strings by UTF-16 code units, which differs from
// Go's byte-wise order for characters outside the BMP.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
