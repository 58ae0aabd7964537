package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/compiler"
	"github.com/roach88/cozygen/internal/session"
	"github.com/roach88/cozygen/internal/store"
	"github.com/roach88/cozygen/internal/templates"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // compile rejected, run failed or scenarios failed
	ExitCommandError = 2 // bad config, missing template, unreachable backend
)

// Error codes reported by commands that are not compile errors. Compile
// errors carry their own E2xx code.
const (
	ErrCodeGeneric   = "E001"
	ErrCodeConfig    = "E002"
	ErrCodeNotFound  = "E003"
	ErrCodeBackend   = "E004"
	ErrCodeUsage     = "E005"
	ErrCodeRun       = "E006"
	ErrCodeScenarios = "E007"
)

// ExitError carries the process exit code out of a command. The command
// has already reported it to the user.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that are not an
// ExitError exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the envelope every command prints with --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter prints command results as text or as a CLIResponse.
// Verbose lines go to ErrWriter when set so JSON on Writer stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success prints data. Text output uses data's default formatting.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error prints a failure. details only appear in text output when
// verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns the ExitError the
// command should return. The error code and exit code follow the error's
// kind.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	var details any
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) && compileErr.ParamName != "" {
		details = map[string]string{
			"param_name": compileErr.ParamName,
			"node_id":    string(compileErr.NodeID),
		}
	}
	if outErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), details); outErr != nil {
		return outErr
	}
	return WrapExitError(exit, message, err)
}

func classify(err error) (code string, exit int) {
	var compileErr *compiler.CompileError
	var apiErr *comfy.APIError
	switch {
	case errors.As(err, &compileErr):
		return string(compileErr.Code), ExitFailure
	case errors.As(err, &apiErr):
		return ErrCodeBackend, ExitCommandError
	case errors.Is(err, templates.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, session.ErrUnknownControl):
		return ErrCodeNotFound, ExitCommandError
	case errors.Is(err, session.ErrNoSubmitter):
		return ErrCodeBackend, ExitCommandError
	}
	return ErrCodeGeneric, ExitCommandError
}

// VerboseLog prints a diagnostic line when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
