package form

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

// Decode parses a persisted value for a control of the given kind. Missing
// parts of struct and stack shapes are left zero; use DecodeLora and
// DecodeStack when the caller needs to know which parts were present.
func Decode(kind registry.Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case registry.KindLora:
		p, err := DecodeLora(raw)
		if err != nil {
			return nil, err
		}
		return p.Lora, nil
	case registry.KindLoraStack:
		p, err := DecodeStack(raw)
		if err != nil {
			return nil, err
		}
		var s LoraStack
		for i, slot := range p.Slots {
			s.Slots[i] = slot.Lora
		}
		s.Count = p.Count
		return s, nil
	case registry.KindWanVideoModel:
		return decodeFields(raw)
	case registry.KindOpaque:
		return nil, fmt.Errorf("form: opaque nodes carry no value")
	default:
		v, err := graph.UnmarshalValue(raw)
		if err != nil {
			return nil, fmt.Errorf("form: %s value: %w", kind, err)
		}
		return Scalar{V: v}, nil
	}
}

// PartialLora is a Lora decoded from saved state with presence bits.
type PartialLora struct {
	Lora
	HasName     bool
	HasStrength bool
}

// PartialStack is a stack decoded from saved state. Slots beyond the saved
// array, and fields missing inside a slot, are marked absent. Count is zero
// when the saved value carried none.
type PartialStack struct {
	Slots [registry.LoraSlots]PartialLora
	Count int
}

// DecodeLora decodes a saved single LoRA value.
func DecodeLora(raw json.RawMessage) (PartialLora, error) {
	return decodePartialLora(raw)
}

// DecodeStack decodes a saved LoRA stack, either {"slots": [...],
// "num_loras": n} or a bare array of slots.
func DecodeStack(raw json.RawMessage) (PartialStack, error) {
	return decodePartialStack(raw)
}

func decodePartialLora(raw json.RawMessage) (PartialLora, error) {
	var fields map[string]json.RawMessage
	if isNull(raw) {
		return PartialLora{}, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return PartialLora{}, fmt.Errorf("form: lora value: %w", err)
	}
	var p PartialLora
	if name, ok := fields["lora"]; ok && !isNull(name) {
		v, err := graph.UnmarshalValue(name)
		if err != nil {
			return PartialLora{}, fmt.Errorf("form: lora name: %w", err)
		}
		p.Name, p.HasName = graph.Text(v), true
	}
	if strength, ok := fields["strength"]; ok && !isNull(strength) {
		v, err := graph.UnmarshalValue(strength)
		if err != nil {
			return PartialLora{}, fmt.Errorf("form: lora strength: %w", err)
		}
		// Unparseable strengths fall back to 0 rather than failing the load.
		p.Strength, _ = graph.AsFloat(v)
		p.HasStrength = true
	}
	return p, nil
}

func decodePartialStack(raw json.RawMessage) (PartialStack, error) {
	var out PartialStack
	if isNull(raw) {
		return out, nil
	}

	var slots []json.RawMessage
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &slots); err != nil {
			return out, fmt.Errorf("form: lora stack: %w", err)
		}
	} else {
		var obj struct {
			Slots []json.RawMessage `json:"slots"`
			Count json.RawMessage   `json:"num_loras"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return out, fmt.Errorf("form: lora stack: %w", err)
		}
		slots = obj.Slots
		if len(obj.Count) > 0 && !isNull(obj.Count) {
			if v, err := graph.UnmarshalValue(obj.Count); err == nil {
				if f, ok := graph.AsFloat(v); ok {
					out.Count = ClampCount(int(f))
				}
			}
		}
	}

	for i := 0; i < len(slots) && i < registry.LoraSlots; i++ {
		p, err := decodePartialLora(slots[i])
		if err != nil {
			return out, fmt.Errorf("slot %d: %w", i, err)
		}
		out.Slots[i] = p
	}
	return out, nil
}

func decodeFields(raw json.RawMessage) (Fields, error) {
	if isNull(raw) {
		return Fields{}, nil
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("form: selector value: %w", err)
	}
	out := make(Fields, len(generic))
	for k, v := range generic {
		gv, err := graph.UnmarshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("form: selector field %q: %w", k, err)
		}
		out[k] = graph.Text(gv)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
