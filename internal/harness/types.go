package harness

import "github.com/roach88/cozygen/internal/compiler"

// TraceEvent records one scenario step as it was applied.
type TraceEvent struct {
	Seq   int    `json:"seq"`
	Op    string `json:"op"`
	Param string `json:"param,omitempty"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step, the compile and every assertion
	// succeeded as expected.
	Pass bool `json:"pass"`

	Trace    []TraceEvent                 `json:"trace"`
	Warnings []compiler.ValidationWarning `json:"warnings,omitempty"`

	// Compiled is nil when the compile failed.
	Compiled *compiler.Compiled `json:"-"`

	// ErrCode is the compile error code, if compilation failed.
	ErrCode string `json:"error_code,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(op, param string, err error) {
	ev := TraceEvent{Seq: len(r.Trace) + 1, Op: op, Param: param}
	if err != nil {
		ev.Error = err.Error()
	}
	r.Trace = append(r.Trace, ev)
}
