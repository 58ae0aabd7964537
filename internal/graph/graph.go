package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// NodeID identifies a node within a graph. IDs are opaque strings.
type NodeID string

// Node is one vertex of a workflow graph.
type Node struct {
	// ClassType names the node's kind.
	ClassType string

	// Inputs maps input names to literals or connections.
	Inputs Object

	// Meta holds the "_meta" block (title lives here).
	Meta Object

	// Properties holds the optional "properties" block.
	Properties Object

	// Extra carries any other keys verbatim.
	Extra map[string]json.RawMessage
}

// Title returns _meta.title, or "" when absent.
func (n *Node) Title() string {
	v, _ := n.Meta.Get("title")
	s, _ := AsString(v)
	return s
}

// Input returns the named input.
func (n *Node) Input(name string) (Value, bool) {
	return n.Inputs.Get(name)
}

// SetInput writes an input, allocating the input map if needed.
func (n *Node) SetInput(name string, v Value) {
	if n.Inputs == nil {
		n.Inputs = Object{}
	}
	n.Inputs[name] = v
}

// Property returns the named entry of the properties block.
func (n *Node) Property(name string) (Value, bool) {
	return n.Properties.Get(name)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := &Node{
		ClassType:  n.ClassType,
		Inputs:     n.Inputs.Clone(),
		Meta:       n.Meta.Clone(),
		Properties: n.Properties.Clone(),
	}
	if n.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(n.Extra))
		for k, v := range n.Extra {
			out.Extra[k] = slices.Clone(v)
		}
	}
	return out
}

// MarshalJSON encodes the node in API format with sorted keys.
func (n *Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 4+len(n.Extra))
	for k, v := range n.Extra {
		out[k] = v
	}
	out["class_type"] = n.ClassType
	inputs := n.Inputs
	if inputs == nil {
		inputs = Object{}
	}
	out["inputs"] = inputs
	if n.Meta != nil {
		out["_meta"] = n.Meta
	}
	if n.Properties != nil {
		out["properties"] = n.Properties
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a node in API format.
func (n *Node) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*n = Node{}
	for key, raw := range fields {
		var err error
		switch key {
		case "class_type":
			err = json.Unmarshal(raw, &n.ClassType)
		case "inputs":
			n.Inputs, err = decodeObject(raw)
		case "_meta":
			n.Meta, err = decodeObject(raw)
		case "properties":
			n.Properties, err = decodeObject(raw)
		default:
			if n.Extra == nil {
				n.Extra = map[string]json.RawMessage{}
			}
			n.Extra[key] = raw
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}

// Graph is a workflow graph keyed by node id.
//
// Iteration order is the order nodes appeared in the source document, or
// insertion order for nodes added later. Discovery relies on it to break
// priority ties.
type Graph struct {
	order []NodeID
	nodes map[NodeID]*Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: map[NodeID]*Node{}}
}

// Parse decodes an API-format graph document.
func Parse(data []byte) (*Graph, error) {
	g := New()
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// IDs returns node ids in iteration order. The slice is a copy.
func (g *Graph) IDs() []NodeID {
	return slices.Clone(g.order)
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Has reports whether id is present.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Put inserts or replaces a node. New ids are appended to the iteration order.
func (g *Graph) Put(id NodeID, n *Node) {
	if g.nodes == nil {
		g.nodes = map[NodeID]*Node{}
	}
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	g.nodes[id] = n
}

// Delete removes a node. Deleting an absent id is a no-op.
func (g *Graph) Delete(id NodeID) {
	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)
	g.order = slices.DeleteFunc(g.order, func(o NodeID) bool { return o == id })
}

// Clone returns a deep copy. Mutating the copy never affects g.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		order: slices.Clone(g.order),
		nodes: make(map[NodeID]*Node, len(g.nodes)),
	}
	for id, n := range g.nodes {
		out.nodes[id] = n.Clone()
	}
	return out
}

// Consumers returns, in iteration order, every (node, input) pair whose
// input is a connection to source.
func (g *Graph) Consumers(source NodeID) []Edge {
	var edges []Edge
	for _, id := range g.order {
		n := g.nodes[id]
		names := make([]string, 0, len(n.Inputs))
		for name := range n.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if ref, ok := AsRef(n.Inputs[name]); ok && ref.Source == source {
				edges = append(edges, Edge{Target: id, Input: name, Slot: ref.Slot})
			}
		}
	}
	return edges
}

// Edge is one connection observed from the consuming side.
type Edge struct {
	Target NodeID `json:"target"`
	Input  string `json:"input"`
	Slot   int    `json:"slot"`
}

// MarshalJSON encodes the graph preserving node order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range g.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(id))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		node, err := g.nodes[id].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		buf.Write(node)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an API-format graph, keeping document order.
func (g *Graph) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("graph: expected object, got %v", tok)
	}

	g.order = nil
	g.nodes = map[NodeID]*Node{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("graph: %w", err)
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("graph: node %q: %w", key, err)
		}
		n := &Node{}
		if err := n.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("graph: node %q: %w", key, err)
		}
		g.Put(NodeID(key), n)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	return nil
}
