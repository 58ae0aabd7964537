// Package defaults seeds form state from discovered controls, their
// resolved choices and any previously saved values.
package defaults

import (
	"encoding/json"
	"strings"

	"github.com/roach88/cozygen/internal/choices"
	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

// DeriveAll builds the form state for controls. Saved values are matched
// by param_name. When names collide the later control wins.
func DeriveAll(controls []discovery.Control, sets choices.Sets, saved form.Saved) form.State {
	state := make(form.State, len(controls))
	for _, c := range controls {
		state[c.ParamName] = Derive(c, sets[c.ID], saved[c.ParamName])
	}
	return state
}

// Derive returns the value shown for c. saved is nil when nothing was
// stored for the control's name.
//
// A saved value wins outright for scalar kinds. Choice-style kinds
// re-validate it against the current options. LoRA and selector kinds merge
// it field by field over the node's own defaults. Undecodable saved values
// are treated as absent.
func Derive(c discovery.Control, set choices.Set, saved json.RawMessage) form.Value {
	n := c.Node
	entry := c.Entry()

	switch c.Kind {
	case registry.KindLora:
		return deriveLora(n, saved)
	case registry.KindLoraStack:
		return deriveStack(n, saved)
	case registry.KindWanVideoModel:
		return deriveWanVideo(n, set, saved)
	}

	if entry.ChoiceStyle(n) {
		return deriveChoice(c, set, saved)
	}
	if saved != nil {
		if v, err := form.Decode(c.Kind, saved); err == nil {
			return v
		}
	}
	return form.Scalar{V: nodeDefault(c)}
}

func nodeDefault(c discovery.Control) graph.Value {
	n := c.Node
	switch c.Kind {
	case registry.KindInt:
		v, _ := n.Input(registry.FieldDefault)
		return graph.Int(graph.IntOrZero(v))
	case registry.KindFloat:
		v, _ := n.Input(registry.FieldDefault)
		return graph.Float(graph.FloatOrZero(v))
	case registry.KindSeed:
		v, _ := n.Input("seed")
		return graph.Int(graph.IntOrZero(v))
	case registry.KindRandomNoise:
		v, _ := n.Input("noise_seed")
		return graph.Int(graph.IntOrZero(v))
	case registry.KindDynamic:
		v, _ := n.Input(registry.FieldDefault)
		switch registry.ParamTypeOf(n) {
		case registry.ParamInt:
			return graph.Int(graph.IntOrZero(v))
		case registry.ParamFloat:
			return graph.Float(graph.FloatOrZero(v))
		case registry.ParamBool:
			return graph.Bool(strings.EqualFold(graph.Text(v), "true"))
		}
		return orEmptyString(v)
	case registry.KindBool:
		v, ok := n.Input("value")
		if b, isBool := v.(graph.Bool); ok && isBool {
			return b
		}
		return graph.Bool(strings.EqualFold(graph.Text(v), "true"))
	case registry.KindString:
		v, _ := n.Input(registry.FieldDefault)
		return orEmptyString(v)
	case registry.KindImage:
		v, _ := n.Input("image")
		return orEmptyString(v)
	}
	return graph.Null{}
}

func orEmptyString(v graph.Value) graph.Value {
	switch v.(type) {
	case nil, graph.Null, graph.Ref:
		return graph.String("")
	}
	return v
}

// configuredChoice is the node's own default for a choice-style control.
func configuredChoice(c discovery.Control) string {
	n := c.Node
	if c.Kind == registry.KindDynamic {
		v, _ := n.Input(registry.FieldDefault)
		return graph.Text(v)
	}
	v, _ := n.Input("value")
	if s := graph.Text(v); s != "" {
		return s
	}
	v, _ = n.Input(registry.FieldDefaultPick)
	return graph.Text(v)
}

func deriveChoice(c discovery.Control, set choices.Set, saved json.RawMessage) form.Value {
	if saved != nil {
		if v, err := graph.UnmarshalValue(saved); err == nil {
			text := graph.Text(v)
			if got, ok := choices.Match(set.Options, text); ok {
				return form.Scalar{V: graph.String(got)}
			}
			// Without a catalog there is nothing to validate against.
			if len(set.Options) == 0 && text != "" {
				return form.Scalar{V: graph.String(text)}
			}
		}
	}
	configured := configuredChoice(c)
	if c.Kind == registry.KindDynamic && len(set.Options) == 0 {
		return form.Scalar{V: graph.String(configured)}
	}
	return form.Scalar{V: graph.String(choices.Pick(set.Options, configured))}
}

func nodeLora(n *graph.Node, nameField, strengthField string) form.Lora {
	name, _ := n.Input(nameField)
	strength, _ := n.Input(strengthField)
	l := form.Lora{Name: graph.Text(name), Strength: graph.FloatOrZero(strength)}
	if l.Name == "" {
		l.Name = registry.LoraNone
	}
	return l
}

func mergeLora(base form.Lora, p form.PartialLora) form.Lora {
	if p.HasName {
		base.Name = p.Name
	}
	if p.HasStrength {
		base.Strength = p.Strength
	}
	return base
}

func deriveLora(n *graph.Node, saved json.RawMessage) form.Value {
	l := nodeLora(n, "lora_value", "strength_value")
	if saved != nil {
		if p, err := form.DecodeLora(saved); err == nil {
			l = mergeLora(l, p)
		}
	}
	return l
}

func deriveStack(n *graph.Node, saved json.RawMessage) form.Value {
	var s form.LoraStack
	for i := range s.Slots {
		nameField, strengthField := registry.LoraSlotFields(i)
		s.Slots[i] = nodeLora(n, nameField, strengthField)
	}
	if v, ok := n.Input(registry.FieldNumLoras); ok {
		if f, ok := graph.ParseFloat(v); ok {
			s.Count = form.ClampCount(int(f))
		}
	}

	if saved != nil {
		if p, err := form.DecodeStack(saved); err == nil {
			for i := range s.Slots {
				s.Slots[i] = mergeLora(s.Slots[i], p.Slots[i])
			}
			if p.Count > 0 {
				s.Count = p.Count
			}
		}
	}

	if s.Count == 0 {
		s.Count = s.InferCount()
	}
	return s
}

func deriveWanVideo(n *graph.Node, set choices.Set, saved json.RawMessage) form.Value {
	var stored form.Fields
	if saved != nil {
		if v, err := form.Decode(registry.KindWanVideoModel, saved); err == nil {
			stored, _ = v.(form.Fields)
		}
	}

	out := form.Fields{}
	for _, axis := range registry.WanVideoFields() {
		if s := stored.Get(axis); s != "" {
			out[axis] = s
			continue
		}
		v, _ := n.Input(axis)
		if s := graph.Text(v); s != "" {
			out[axis] = s
			continue
		}
		out[axis] = axisDefault(axis, set)
	}
	return out
}

func axisDefault(axis string, set choices.Set) string {
	options := set.Axis(axis)
	if options == nil {
		options = registry.WanVideoAxis(axis)
	}
	if axis == registry.AxisLoadDevice && len(options) > 1 {
		return options[1]
	}
	if len(options) > 0 {
		return options[0]
	}
	return registry.WanVideoFallback(axis)
}
