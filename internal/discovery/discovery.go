// Package discovery projects the control nodes out of a workflow graph.
package discovery

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

// Control is one discovered control node.
type Control struct {
	ID        graph.NodeID
	Kind      registry.Kind
	ParamName string
	Priority  int

	// Node points into the template graph and must not be mutated.
	Node *graph.Node
}

// Entry returns the registry row for the control's kind.
func (c Control) Entry() registry.Entry {
	return registry.Lookup(c.Kind)
}

// Discover returns the control nodes of g sorted by ascending priority.
// Ties keep graph iteration order. g is not modified.
func Discover(g *graph.Graph) []Control {
	var controls []Control
	for _, id := range g.IDs() {
		n, _ := g.Node(id)
		kind := registry.KindOf(n.ClassType)
		if !kind.IsControl() {
			continue
		}
		controls = append(controls, Control{
			ID:        id,
			Kind:      kind,
			ParamName: paramName(n, kind),
			Priority:  priority(n),
			Node:      n,
		})
	}
	slices.SortStableFunc(controls, func(a, b Control) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return controls
}

// Names returns the set of param names among controls.
func Names(controls []Control) map[string]bool {
	names := make(map[string]bool, len(controls))
	for _, c := range controls {
		names[c.ParamName] = true
	}
	return names
}

// Duplicates returns param names shared by more than one control, mapped to
// the node ids that share them in discovery order.
func Duplicates(controls []Control) map[string][]graph.NodeID {
	byName := map[string][]graph.NodeID{}
	for _, c := range controls {
		byName[c.ParamName] = append(byName[c.ParamName], c.ID)
	}
	for name, ids := range byName {
		if len(ids) < 2 {
			delete(byName, name)
		}
	}
	return byName
}

func paramName(n *graph.Node, kind registry.Kind) string {
	v, _ := n.Input(registry.FieldParamName)
	name := graph.Text(v)
	if name == "" && kind == registry.KindImage {
		return registry.DefaultImageParamName
	}
	return name
}

func priority(n *graph.Node) int {
	v, ok := n.Input(registry.FieldPriority)
	if !ok {
		return registry.DefaultPriority
	}
	switch val := v.(type) {
	case graph.Int:
		return int(val)
	case graph.Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return registry.DefaultPriority
		}
		return int(f)
	case graph.String:
		if i, err := strconv.Atoi(strings.TrimSpace(string(val))); err == nil {
			return i
		}
	}
	return registry.DefaultPriority
}
