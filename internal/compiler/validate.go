package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/graph"
)

// Warning codes (W100-W199). Warnings never block compilation.
const (
	WarnDuplicateParamName = "W101" // two controls share a param_name
	WarnMissingParamName   = "W102" // control has an empty param_name
)

// ValidationWarning describes a template hazard.
type ValidationWarning struct {
	Code      string         `json:"code"`
	ParamName string         `json:"param_name"`
	NodeIDs   []graph.NodeID `json:"node_ids"`
	Message   string         `json:"message"`
}

// String implements fmt.Stringer.
func (w ValidationWarning) String() string {
	return fmt.Sprintf("[%s] %s", w.Code, w.Message)
}

// Validate returns every warning for the discovered controls, ordered by
// code then param name.
func Validate(controls []discovery.Control) []ValidationWarning {
	var warnings []ValidationWarning

	for name, ids := range discovery.Duplicates(controls) {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = string(id)
		}
		warnings = append(warnings, ValidationWarning{
			Code:      WarnDuplicateParamName,
			ParamName: name,
			NodeIDs:   ids,
			Message:   fmt.Sprintf("param_name %q is shared by nodes %s; their values will collide", name, strings.Join(parts, ", ")),
		})
	}

	for _, c := range controls {
		if strings.TrimSpace(c.ParamName) == "" {
			warnings = append(warnings, ValidationWarning{
				Code:    WarnMissingParamName,
				NodeIDs: []graph.NodeID{c.ID},
				Message: fmt.Sprintf("%s node %s has no param_name", c.Kind, c.ID),
			})
		}
	}

	slices.SortFunc(warnings, func(a, b ValidationWarning) int {
		if c := strings.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		if c := strings.Compare(a.ParamName, b.ParamName); c != 0 {
			return c
		}
		return strings.Compare(string(a.NodeIDs[0]), string(b.NodeIDs[0]))
	})
	return warnings
}
