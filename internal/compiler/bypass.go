package compiler

import (
	"log/slog"
	"sort"

	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

// BypassOutcome is what happened to one flagged control.
type BypassOutcome string

const (
	BypassApplied       BypassOutcome = "applied"
	BypassNoTarget      BypassOutcome = "no_target"
	BypassNoPassthrough BypassOutcome = "no_passthrough"
	BypassNotPresent    BypassOutcome = "not_present"
	BypassNotBypassable BypassOutcome = "not_bypassable"
)

// BypassResult records one flagged control's outcome.
type BypassResult struct {
	ParamName string        `json:"param_name"`
	Control   graph.NodeID  `json:"control"`
	Target    graph.NodeID  `json:"target,omitempty"`
	Outcome   BypassOutcome `json:"outcome"`
	Rewired   []graph.Edge  `json:"rewired,omitempty"`
}

// Rewrite elides every bypass-flagged control together with the node it
// feeds, reconnecting that node's consumers to an upstream source.
//
// Controls are processed in the given (discovery) order against one shared
// copy, so later bypasses see earlier rewiring. Anything that cannot be
// bypassed is left in place and reported, never returned as an error. g is
// not modified.
func Rewrite(g *graph.Graph, controls []discovery.Control, bypass form.Flags, logger *slog.Logger) (*graph.Graph, []BypassResult) {
	if logger == nil {
		logger = slog.Default()
	}
	work := g.Clone()
	var results []BypassResult

	for _, c := range controls {
		if !bypass[c.ParamName] {
			continue
		}
		res := bypassOne(work, c)
		logger.Debug("bypass", "param_name", res.ParamName, "control", res.Control, "target", res.Target, "outcome", res.Outcome)
		results = append(results, res)
	}
	return work, results
}

func bypassOne(g *graph.Graph, c discovery.Control) BypassResult {
	res := BypassResult{ParamName: c.ParamName, Control: c.ID}

	if !c.Entry().Bypass {
		res.Outcome = BypassNotBypassable
		return res
	}
	if !g.Has(c.ID) {
		res.Outcome = BypassNotPresent
		return res
	}

	// The target is the first node, in iteration order, fed by the control.
	feeds := g.Consumers(c.ID)
	if len(feeds) == 0 {
		res.Outcome = BypassNoTarget
		return res
	}
	targetID := feeds[0].Target
	res.Target = targetID
	target, _ := g.Node(targetID)

	candidates := passthroughCandidates(g, target)
	if len(candidates) == 0 {
		res.Outcome = BypassNoPassthrough
		return res
	}

	for _, edge := range g.Consumers(targetID) {
		ref, ok := candidates[edge.Input]
		if !ok {
			continue
		}
		consumer, _ := g.Node(edge.Target)
		consumer.SetInput(edge.Input, ref)
		res.Rewired = append(res.Rewired, edge)
	}

	g.Delete(targetID)
	g.Delete(c.ID)
	res.Outcome = BypassApplied
	return res
}

// passthroughCandidates returns the target's connection inputs whose source
// exists and is not itself a bypass-eligible control, keyed by input name.
func passthroughCandidates(g *graph.Graph, target *graph.Node) map[string]graph.Ref {
	names := make([]string, 0, len(target.Inputs))
	for name := range target.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	candidates := map[string]graph.Ref{}
	for _, name := range names {
		ref, ok := graph.AsRef(target.Inputs[name])
		if !ok {
			continue
		}
		src, ok := g.Node(ref.Source)
		if !ok {
			continue
		}
		if registry.Lookup(registry.KindOf(src.ClassType)).Bypass {
			continue
		}
		candidates[name] = ref
	}
	return candidates
}
