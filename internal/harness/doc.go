// Package harness runs compile scenarios: a template, a scripted catalog
// and a sequence of form edits, followed by assertions on the compiled
// graph.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: lora_bypass
//	description: "Bypassing the style choice removes its LoRA loader"
//	template: ../templates/lora.json
//	run_id: run-lora
//	seed: 7
//	catalog:
//	  loras: ["None", "ink.safetensors"]
//	saved:
//	  style: ink.safetensors
//	steps:
//	  - set: strength
//	    value: 0.8
//	  - randomize: seed
//	  - bypass: style
//	  - save_preset: inked
//	assertions:
//	  - type: input
//	    node: "4"
//	    input: model
//	    value: ["2", 0]
//	  - type: node_absent
//	    node: "3"
//	  - type: bypass
//	    param: style
//	    outcome: applied
//
// # Assertion Types
//
//   - input: a compiled node input equals value (numbers compare by value)
//   - node_absent: a node was removed from the compiled graph
//   - meta_text: the LoRA summary equals value
//   - bypass: the bypass of param ended with outcome
//   - warning: template validation raised code
//   - state: the compiled form state for param equals value
//
// # Deterministic Runs
//
// Every scenario runs against a fresh in-memory store with a fixed run id
// (run_id, default "test-run-default") and a randomizer seeded from seed,
// so compiled graphs are stable across runs and can be compared with
// golden files.
package harness
