package session

import (
	"github.com/roach88/cozygen/internal/compiler"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

// View is what a form renders for the current template.
type View struct {
	Template string                       `json:"template"`
	Epoch    int64                        `json:"epoch"`
	Controls []ControlView                `json:"controls"`
	Warnings []compiler.ValidationWarning `json:"warnings,omitempty"`
}

// ControlView is one rendered control, in priority order.
type ControlView struct {
	NodeID       graph.NodeID        `json:"node_id"`
	Kind         string              `json:"kind"`
	ClassType    string              `json:"class_type"`
	Title        string              `json:"title,omitempty"`
	ParamName    string              `json:"param_name"`
	Priority     int                 `json:"priority"`
	Value        any                 `json:"value"`
	Options      []string            `json:"options,omitempty"`
	Axes         map[string][]string `json:"axes,omitempty"`
	Randomizable bool                `json:"randomizable"`
	Randomize    bool                `json:"randomize"`
	Bypassable   bool                `json:"bypassable"`
	Bypass       bool                `json:"bypass"`
}

func (l *loaded) view() *View {
	v := &View{
		Template: l.name,
		Epoch:    l.epoch,
		Controls: make([]ControlView, 0, len(l.controls)),
		Warnings: l.warnings,
	}
	for _, c := range l.controls {
		entry := c.Entry()
		set := l.sets[c.ID]
		v.Controls = append(v.Controls, ControlView{
			NodeID:       c.ID,
			Kind:         c.Kind.String(),
			ClassType:    c.Node.ClassType,
			Title:        c.Node.Title(),
			ParamName:    c.ParamName,
			Priority:     c.Priority,
			Value:        form.ToAny(l.state[c.ParamName]),
			Options:      set.Options,
			Axes:         set.Axes,
			Randomizable: entry.PolicyFor(c.Node) != registry.RandomNone,
			Randomize:    l.randomize[c.ParamName],
			Bypassable:   entry.Bypass,
			Bypass:       l.bypass[c.ParamName],
		})
	}
	return v
}
