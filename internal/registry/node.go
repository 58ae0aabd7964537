package registry

import (
	"strings"

	"github.com/roach88/cozygen/internal/graph"
)

// ParamTypeOf returns a dynamic input's param_type, defaulting to STRING.
func ParamTypeOf(n *graph.Node) string {
	v, _ := n.Input(FieldParamType)
	if s, ok := graph.AsString(v); ok && s != "" {
		return s
	}
	return ParamString
}

// PolicyFor returns the effective random policy for node n of this entry's
// kind. Dynamic inputs only randomize when typed INT or FLOAT.
func (e Entry) PolicyFor(n *graph.Node) RandomPolicy {
	if e.Kind != KindDynamic {
		return e.Random
	}
	switch ParamTypeOf(n) {
	case ParamFloat:
		return RandomContinuous
	case ParamInt:
		return RandomDiscrete
	default:
		return RandomNone
	}
}

// ChoiceStyle reports whether saved values for n are re-validated against
// the current catalog.
func (e Entry) ChoiceStyle(n *graph.Node) bool {
	switch e.Kind {
	case KindChoice:
		return true
	case KindDynamic:
		return ParamTypeOf(n) == ParamDropdown
	}
	return false
}

// CategoryFor returns the catalog category for n, or "" when the node does
// not fetch choices.
//
// Declared categories come from inputs.choice_type, then
// properties.choice_type; untyped dynamic dropdowns fall back to the legacy
// name table.
func (e Entry) CategoryFor(n *graph.Node, paramName string) string {
	switch e.Catalog {
	case CatalogFixed:
		return e.Category
	case CatalogDeclared:
		if e.Kind == KindDynamic && ParamTypeOf(n) != ParamDropdown {
			return ""
		}
		if c := declaredCategory(n); c != "" {
			return c
		}
		if e.Kind == KindDynamic {
			c, _ := LegacyCategory(paramName)
			return c
		}
	}
	return ""
}

func declaredCategory(n *graph.Node) string {
	if v, ok := n.Input(FieldChoiceType); ok {
		if s := strings.TrimSpace(graph.Text(v)); s != "" {
			return s
		}
	}
	if v, ok := n.Property(FieldChoiceType); ok {
		if s := strings.TrimSpace(graph.Text(v)); s != "" {
			return s
		}
	}
	return ""
}

// RandomBounds returns the [min,max] range for randomized draws on n.
func (e Entry) RandomBounds(n *graph.Node) (lo, hi float64) {
	lo, hi = DefaultRandomMin, float64(e.RandomMax)
	if hi == 0 {
		hi = DefaultRandomMax
	}
	if v, ok := n.Input(FieldMin); ok {
		if f, ok := graph.AsFloat(v); ok && f != 0 {
			lo = f
		}
	}
	if v, ok := n.Input(FieldMax); ok {
		if f, ok := graph.AsFloat(v); ok && f != 0 {
			hi = f
		}
	}
	return lo, hi
}
