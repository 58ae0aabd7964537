package compiler

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

// Injection is the output of the injector pass.
type Injection struct {
	// Graph is an owned copy of the template with values written in.
	Graph *graph.Graph

	// State is the submitted form state, randomized draws included.
	State form.State

	// MetaLines lists one line per active LoRA entry.
	MetaLines []string

	RunID string
}

// MetaText joins the LoRA lines as written to meta text nodes.
func (inj *Injection) MetaText() string {
	return strings.Join(inj.MetaLines, "\n")
}

// Inject writes form values into a deep copy of template.
//
// Controls flagged in randomize whose kind supports it receive a fresh draw
// instead of their form value. Every namespaced node gets the active
// marker, sink nodes get runID, and meta text nodes get the LoRA summary.
// template is never modified.
func Inject(template *graph.Graph, controls []discovery.Control, state form.State, randomize form.Flags, runID string, rnd Randomizer, logger *slog.Logger) (*Injection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := checkImages(controls, state); err != nil {
		return nil, err
	}

	inj := &Injection{
		Graph: template.Clone(),
		State: state.Clone(),
		RunID: runID,
	}

	for _, c := range controls {
		n, ok := inj.Graph.Node(c.ID)
		if !ok {
			continue
		}
		value, present := state[c.ParamName]

		entry := c.Entry()
		if policy := entry.PolicyFor(c.Node); randomize[c.ParamName] && policy != registry.RandomNone {
			value, present = form.Scalar{V: draw(entry, policy, c.Node, rnd)}, true
			inj.State[c.ParamName] = value
			logger.Debug("randomized control", "param_name", c.ParamName, "value", form.ToAny(value))
		}

		lines := writeValue(c, n, value, present, logger)
		inj.MetaLines = append(inj.MetaLines, lines...)
	}

	stamp(inj.Graph, runID, inj.MetaText())
	return inj, nil
}

// checkImages fails on the first image control, in discovery order, whose
// form value is empty.
func checkImages(controls []discovery.Control, state form.State) error {
	for _, c := range controls {
		if c.Kind != registry.KindImage {
			continue
		}
		s, _ := state[c.ParamName].(form.Scalar)
		if strings.TrimSpace(graph.Text(s.V)) == "" {
			return NewMissingImageError(c.ParamName, c.ID)
		}
	}
	return nil
}

func draw(entry registry.Entry, policy registry.RandomPolicy, n *graph.Node, rnd Randomizer) graph.Value {
	lo, hi := entry.RandomBounds(n)
	if policy == registry.RandomContinuous {
		return graph.Float(rnd.Float(lo, hi))
	}
	ilo, ihi := math.Ceil(lo), math.Floor(hi)
	if ilo > ihi {
		// No integer lies in [lo, hi]; use the one nearest lo.
		return graph.Int(int64(math.Round(lo)))
	}
	return graph.Int(rnd.Int(int64(ilo), int64(ihi)))
}

// writeValue decomposes value into the node's value fields and returns the
// meta lines it produced.
func writeValue(c discovery.Control, n *graph.Node, value form.Value, present bool, logger *slog.Logger) []string {
	switch c.Kind {
	case registry.KindLora:
		l := asLora(value)
		n.SetInput("lora_value", graph.String(l.Name))
		n.SetInput("strength_value", graph.Float(l.Strength))
		if l.Active() {
			return []string{metaLine(c.ParamName, l)}
		}
		return nil

	case registry.KindLoraStack:
		return writeStack(c, n, asStack(value))

	case registry.KindWanVideoModel:
		fields, _ := value.(form.Fields)
		for _, axis := range registry.WanVideoFields() {
			s := fields.Get(axis)
			if s == "" {
				s = registry.WanVideoFallback(axis)
			}
			n.SetInput(axis, graph.String(s))
		}
		return nil
	}

	if !present {
		logger.Debug("no form value, keeping template field", "param_name", c.ParamName, "node_id", c.ID)
		return nil
	}
	s, ok := value.(form.Scalar)
	if !ok {
		logger.Debug("form value shape does not match control kind",
			"param_name", c.ParamName, "kind", c.Kind, "value_type", fmt.Sprintf("%T", value))
		return nil
	}

	field := c.Entry().ValueFields[0]
	switch c.Kind {
	case registry.KindSeed, registry.KindRandomNoise:
		n.SetInput(field, graph.Int(graph.IntOrZero(s.V)))
	default:
		v := s.V
		if v == nil {
			v = graph.Null{}
		}
		n.SetInput(field, v)
	}
	return nil
}

func writeStack(c discovery.Control, n *graph.Node, s form.LoraStack) []string {
	var lines []string
	anyActive := false
	for i, slot := range s.Slots {
		nameField, strengthField := registry.LoraSlotFields(i)
		n.SetInput(nameField, graph.String(slot.Name))
		n.SetInput(strengthField, graph.Float(slot.Strength))
		if slot.Active() {
			anyActive = true
			lines = append(lines, metaLine(fmt.Sprintf("%s %d", c.ParamName, i+1), slot))
		}
	}

	count := registry.LoraSlots
	switch {
	case s.Count > 0:
		count = form.ClampCount(s.Count)
	case anyActive:
		count = s.InferCount()
	default:
		if v, ok := c.Node.Input(registry.FieldNumLoras); ok {
			if f, ok := graph.ParseFloat(v); ok {
				count = form.ClampCount(int(f))
			}
		}
	}
	n.SetInput(registry.FieldNumLoras, graph.Int(count))
	return lines
}

func metaLine(label string, l form.Lora) string {
	return fmt.Sprintf("%s = %s:%.2f", label, l.Name, l.Strength)
}

func asLora(v form.Value) form.Lora {
	l, ok := v.(form.Lora)
	if !ok {
		return form.Lora{Name: registry.LoraNone}
	}
	if l.Name == "" {
		l.Name = registry.LoraNone
	}
	return l
}

func asStack(v form.Value) form.LoraStack {
	s, _ := v.(form.LoraStack)
	for i := range s.Slots {
		if s.Slots[i].Name == "" {
			s.Slots[i].Name = registry.LoraNone
		}
	}
	return s
}

// stamp marks namespaced nodes active, writes the run id onto sinks and the
// LoRA summary onto meta text nodes.
func stamp(g *graph.Graph, runID, metaText string) {
	for _, id := range g.IDs() {
		n, _ := g.Node(id)
		if !registry.InNamespace(n.ClassType) {
			continue
		}
		n.SetInput(registry.ActiveField, graph.Bool(true))
		if n.ClassType == registry.MetaTextClass {
			n.SetInput(registry.MetaTextField, graph.String(metaText))
		}
		if registry.IsSink(n.ClassType) {
			n.SetInput(registry.RunIDField, graph.String(runID))
		}
	}
}
