package form

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// State maps param_name to the value shown for that control.
type State map[string]Value

// Clone returns a copy whose maps are independent of s.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		if f, ok := v.(Fields); ok {
			v = maps.Clone(f)
		}
		out[k] = v
	}
	return out
}

// Names returns the param names in sorted order.
func (s State) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Saved is a persisted State before it has been matched against a
// template's controls. Values stay raw until their kind is known.
type Saved map[string]json.RawMessage

// ParseSaved decodes a persisted state payload. Empty input is an empty map.
func ParseSaved(data []byte) (Saved, error) {
	out := Saved{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse saved state: %w", err)
	}
	return out, nil
}

// Encode serializes a State into its persisted form.
func Encode(s State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Filter keeps entries whose name is in names.
func (s Saved) Filter(names map[string]bool) Saved {
	out := Saved{}
	for k, v := range s {
		if names[k] {
			out[k] = v
		}
	}
	return out
}

// Flags maps param_name to a boolean toggle (randomize or bypass).
type Flags map[string]bool

// ParseFlags decodes a persisted flag payload. Empty input is an empty map.
func ParseFlags(data []byte) (Flags, error) {
	out := Flags{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	return out, nil
}

// Filter keeps flags whose name is in names.
func (f Flags) Filter(names map[string]bool) Flags {
	out := Flags{}
	for k, v := range f {
		if names[k] {
			out[k] = v
		}
	}
	return out
}

// Merge returns f overlaid with other.
func (f Flags) Merge(other Flags) Flags {
	out := maps.Clone(f)
	if out == nil {
		out = Flags{}
	}
	maps.Copy(out, other)
	return out
}

// Set returns the names whose flag is true, sorted.
func (f Flags) Set() []string {
	var names []string
	for k, v := range f {
		if v {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return names
}
