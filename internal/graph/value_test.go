package graph

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null{}},
		{"string", "abc", String("abc")},
		{"int", 3, Int(3)},
		{"integral float", float64(4), Int(4)},
		{"fraction", 0.25, Float(0.25)},
		{"bool", true, Bool(true)},
		{"ref", []any{"12", 1}, Ref{Source: "12", Slot: 1}},
		{"plain array", []any{"a", "b"}, Array{String("a"), String("b")}},
		{"three element array", []any{"a", 1, 2}, Array{String("a"), Int(1), Int(2)}},
		{"object", map[string]any{"k": "v"}, Object{"k": String("v")}},
		{"json number int", json.Number("42"), Int(42)},
		{"json number float", json.Number("4.5"), Float(4.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromAnyUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)
}

func TestAsFloat(t *testing.T) {
	f, ok := AsFloat(Int(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = AsFloat(String(" 2.5 "))
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	_, ok = AsFloat(String("abc"))
	assert.False(t, ok)

	_, ok = AsFloat(Ref{Source: "1"})
	assert.False(t, ok)
}

func TestText(t *testing.T) {
	assert.Equal(t, "x", Text(String("x")))
	assert.Equal(t, "12", Text(Int(12)))
	assert.Equal(t, "0.5", Text(Float(0.5)))
	assert.Equal(t, "true", Text(Bool(true)))
	assert.Equal(t, "", Text(Null{}))
	assert.Equal(t, "", Text(Ref{Source: "1"}))
}

func TestToAnyRoundTrip(t *testing.T) {
	v := Object{"r": Ref{Source: "3", Slot: 0}, "n": Null{}, "a": Array{Int(1), Float(1.5)}}
	back, err := FromAny(ToAny(v))
	require.NoError(t, err)
	assert.Equal(t, v, back)
}

func TestFloatMarshalRejectsNaN(t *testing.T) {
	_, err := json.Marshal(Float(math.NaN()))
	assert.Error(t, err)

	data, err := json.Marshal(Float(0.1))
	require.NoError(t, err)
	assert.Equal(t, "0.1", string(data))
}

func TestCloneValueDeep(t *testing.T) {
	orig := Object{"list": Array{String("a")}}
	c := CloneValue(orig).(Object)
	c["list"].(Array)[0] = String("b")
	assert.Equal(t, String("a"), orig["list"].(Array)[0])
}
