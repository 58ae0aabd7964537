package testutil

import (
	"testing"

	"github.com/roach88/cozygen/internal/graph"
)

// MustParseGraph parses an API-format graph or fails the test.
func MustParseGraph(t testing.TB, doc string) *graph.Graph {
	t.Helper()
	g, err := graph.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}
	return g
}

// MustNode returns a node or fails the test.
func MustNode(t testing.TB, g *graph.Graph, id graph.NodeID) *graph.Node {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("node %q not in graph", id)
	}
	return n
}

// Input returns a node input or fails the test.
func Input(t testing.TB, g *graph.Graph, id graph.NodeID, name string) graph.Value {
	t.Helper()
	v, ok := MustNode(t, g, id).Input(name)
	if !ok {
		t.Fatalf("node %q has no input %q", id, name)
	}
	return v
}
