package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/cozygen/internal/graph"
)

func TestKindOfRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		assert.Equal(t, k, KindOf(k.ClassType()), k.String())
		assert.True(t, k.IsControl())
	}
	assert.Equal(t, KindOpaque, KindOf("KSampler"))
	assert.Equal(t, KindOpaque, KindOf(MetaTextClass))
	assert.False(t, KindOpaque.IsControl())
}

func TestLookupCoversEveryKind(t *testing.T) {
	for _, k := range Kinds() {
		e := Lookup(k)
		assert.Equal(t, k, e.Kind)
		assert.NotEmpty(t, e.ValueFields, k.String())
	}
}

func TestBypassSupport(t *testing.T) {
	var bypassable []Kind
	for _, k := range Kinds() {
		if Lookup(k).Bypass {
			bypassable = append(bypassable, k)
		}
	}
	assert.Equal(t, []Kind{KindDynamic, KindChoice}, bypassable)
}

func TestLoraStackFields(t *testing.T) {
	fields := Lookup(KindLoraStack).ValueFields
	assert.Len(t, fields, 11)
	assert.Equal(t, "lora_0", fields[0])
	assert.Equal(t, "strength_4", fields[9])
	assert.Equal(t, FieldNumLoras, fields[10])
}

func TestPolicyFor(t *testing.T) {
	dyn := func(paramType string) *graph.Node {
		return &graph.Node{ClassType: ClassDynamic, Inputs: graph.Object{FieldParamType: graph.String(paramType)}}
	}
	e := Lookup(KindDynamic)
	assert.Equal(t, RandomContinuous, e.PolicyFor(dyn(ParamFloat)))
	assert.Equal(t, RandomDiscrete, e.PolicyFor(dyn(ParamInt)))
	assert.Equal(t, RandomNone, e.PolicyFor(dyn(ParamString)))
	assert.Equal(t, RandomNone, e.PolicyFor(&graph.Node{ClassType: ClassDynamic}))

	assert.Equal(t, RandomContinuous, Lookup(KindFloat).PolicyFor(&graph.Node{}))
	assert.Equal(t, RandomDiscrete, Lookup(KindSeed).PolicyFor(&graph.Node{}))
	assert.Equal(t, RandomNone, Lookup(KindString).PolicyFor(&graph.Node{}))
	assert.Equal(t, RandomNone, Lookup(KindLoraStack).PolicyFor(&graph.Node{}))
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		node  *graph.Node
		param string
		want  string
	}{
		{"choice declared", KindChoice, &graph.Node{Inputs: graph.Object{"choice_type": graph.String("sampler")}}, "s", "sampler"},
		{"choice from properties", KindChoice, &graph.Node{Properties: graph.Object{"choice_type": graph.String("vae")}}, "s", "vae"},
		{"choice undeclared", KindChoice, &graph.Node{}, "sampler_name", ""},
		{"dropdown legacy", KindDynamic, &graph.Node{Inputs: graph.Object{"param_type": graph.String("DROPDOWN")}}, "clip_name2", "clip"},
		{"dropdown declared wins", KindDynamic, &graph.Node{Inputs: graph.Object{"param_type": graph.String("DROPDOWN"), "choice_type": graph.String("unet")}}, "clip_name2", "unet"},
		{"dynamic string", KindDynamic, &graph.Node{Inputs: graph.Object{"choice_type": graph.String("unet")}}, "x", ""},
		{"lora fixed", KindLora, &graph.Node{Inputs: graph.Object{"choice_type": graph.String("other")}}, "x", CategoryLoras},
		{"stack fixed", KindLoraStack, &graph.Node{}, "x", CategoryLoras},
		{"wanvideo fixed", KindWanVideoModel, &graph.Node{}, "x", CategoryWanVideoModels},
		{"int none", KindInt, &graph.Node{Inputs: graph.Object{"choice_type": graph.String("unet")}}, "x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lookup(tt.kind).CategoryFor(tt.node, tt.param))
		})
	}
}

func TestRandomBounds(t *testing.T) {
	lo, hi := Lookup(KindInt).RandomBounds(&graph.Node{})
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, float64(DefaultRandomMax), hi)

	lo, hi = Lookup(KindSeed).RandomBounds(&graph.Node{})
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, float64(SeedRandomMax), hi)

	lo, hi = Lookup(KindFloat).RandomBounds(&graph.Node{Inputs: graph.Object{FieldMin: graph.Float(0.5), FieldMax: graph.String("2")}})
	assert.Equal(t, 0.5, lo)
	assert.Equal(t, 2.0, hi)
}

func TestSinksAndNamespace(t *testing.T) {
	assert.True(t, IsSink("CozyGenOutput"))
	assert.True(t, IsSink("CozyGenEnd"))
	assert.False(t, IsSink(MetaTextClass))
	assert.True(t, InNamespace(MetaTextClass))
	assert.False(t, InNamespace("KSampler"))
}

func TestWanVideoAxes(t *testing.T) {
	assert.Nil(t, WanVideoAxis(AxisModelName))
	assert.Equal(t, "fp32", WanVideoAxis(AxisBasePrecision)[0])
	assert.Equal(t, "offload_device", WanVideoAxis(AxisLoadDevice)[1])
	assert.Equal(t, "disabled", WanVideoFallback(AxisQuantization))
}
