package form

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

func stack(slots ...Lora) LoraStack {
	var s LoraStack
	for i := range s.Slots {
		s.Slots[i] = Lora{Name: registry.LoraNone}
	}
	copy(s.Slots[:], slots)
	return s
}

func TestInferCount(t *testing.T) {
	tests := []struct {
		name  string
		stack LoraStack
		want  int
	}{
		{"first active", stack(Lora{"foo", 1.0}), 1},
		{"none active", stack(), 5},
		{"gap", stack(Lora{"a", 1}, Lora{"None", 0}, Lora{"b", 0.5}), 3},
		{"zero strength is inactive", stack(Lora{"a", 1}, Lora{"b", 0}), 1},
		{"last slot", stack(Lora{"None", 0}, Lora{"None", 0}, Lora{"None", 0}, Lora{"None", 0}, Lora{"z", -1}), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stack.InferCount())
		})
	}
}

func TestEffectiveCountPrefersDeclared(t *testing.T) {
	s := stack(Lora{"foo", 1})
	s.Count = 3
	assert.Equal(t, 3, s.EffectiveCount())

	s.Count = 9
	assert.Equal(t, 5, s.EffectiveCount())

	s.Count = 0
	assert.Equal(t, 1, s.EffectiveCount())
}

func TestLoraStackJSON(t *testing.T) {
	s := stack(Lora{"foo", 0.75})
	s.Count = 2
	data, err := json.Marshal(s)
	require.NoError(t, err)

	back, err := Decode(registry.KindLoraStack, data)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestDecodeStackAcceptsBareArray(t *testing.T) {
	p, err := DecodeStack(json.RawMessage(`[{"lora": "a", "strength": "0.5"}, {"lora": "b"}]`))
	require.NoError(t, err)

	assert.Equal(t, 0, p.Count)
	assert.True(t, p.Slots[0].HasName)
	assert.True(t, p.Slots[0].HasStrength)
	assert.Equal(t, 0.5, p.Slots[0].Strength)
	assert.True(t, p.Slots[1].HasName)
	assert.False(t, p.Slots[1].HasStrength)
	assert.False(t, p.Slots[2].HasName)
}

func TestDecodeLoraPartial(t *testing.T) {
	p, err := DecodeLora(json.RawMessage(`{"strength": 1.25}`))
	require.NoError(t, err)
	assert.False(t, p.HasName)
	assert.True(t, p.HasStrength)
	assert.Equal(t, 1.25, p.Strength)

	_, err = DecodeLora(json.RawMessage(`"nope"`))
	assert.Error(t, err)
}

func TestDecodeScalarAndFields(t *testing.T) {
	v, err := Decode(registry.KindInt, json.RawMessage(`42`))
	require.NoError(t, err)
	assert.Equal(t, Scalar{V: graph.Int(42)}, v)

	v, err = Decode(registry.KindWanVideoModel, json.RawMessage(`{"model_name": "m.safetensors", "base_precision": "fp16"}`))
	require.NoError(t, err)
	assert.Equal(t, Fields{"model_name": "m.safetensors", "base_precision": "fp16"}, v)

	_, err = Decode(registry.KindOpaque, json.RawMessage(`1`))
	assert.Error(t, err)
}

func TestStateRoundTrip(t *testing.T) {
	s := State{
		"cfg":   Scalar{V: graph.Float(7.5)},
		"lora":  Lora{Name: "x", Strength: 1},
		"model": Fields{"model_name": "m"},
	}
	data, err := Encode(s)
	require.NoError(t, err)

	saved, err := ParseSaved(data)
	require.NoError(t, err)
	assert.Len(t, saved, 3)
	assert.JSONEq(t, `{"lora":"x","strength":1}`, string(saved["lora"]))

	filtered := saved.Filter(map[string]bool{"cfg": true})
	assert.Len(t, filtered, 1)
}

func TestStateCloneIsolatesFields(t *testing.T) {
	s := State{"model": Fields{"model_name": "a"}}
	c := s.Clone()
	c["model"].(Fields)["model_name"] = "b"
	assert.Equal(t, "a", s["model"].(Fields)["model_name"])
}

func TestFlags(t *testing.T) {
	f, err := ParseFlags([]byte(`{"seed": true, "gone": true, "cfg": false}`))
	require.NoError(t, err)

	filtered := f.Filter(map[string]bool{"seed": true, "cfg": true})
	assert.Equal(t, Flags{"seed": true, "cfg": false}, filtered)
	assert.Equal(t, []string{"seed"}, filtered.Set())

	merged := filtered.Merge(Flags{"cfg": true})
	assert.Equal(t, []string{"cfg", "seed"}, merged.Set())

	empty, err := ParseFlags(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestToAny(t *testing.T) {
	assert.Equal(t, int64(3), ToAny(Scalar{V: graph.Int(3)}))
	assert.Equal(t, map[string]any{"lora": "x", "strength": 0.5}, ToAny(Lora{Name: "x", Strength: 0.5}))
	got := ToAny(stack(Lora{"a", 1})).(map[string]any)
	assert.Equal(t, 1, got["num_loras"])
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(registry.KindLora, map[string]any{"lora": "a", "strength": 0.5})
	require.NoError(t, err)
	assert.Equal(t, Lora{Name: "a", Strength: 0.5}, v)

	v, err = FromAny(registry.KindChoice, "dpmpp")
	require.NoError(t, err)
	assert.Equal(t, Scalar{V: graph.String("dpmpp")}, v)
}
