package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/cozygen/internal/graph"
)

// ErrorCode categorizes compile errors.
type ErrorCode string

const (
	// ErrCodeMissingImage: an image control has no file selected.
	ErrCodeMissingImage ErrorCode = "E201"

	// ErrCodeEmptyTemplate: the template has no nodes.
	ErrCodeEmptyTemplate ErrorCode = "E202"

	// ErrCodeEncode: the compiled graph could not be encoded.
	ErrCodeEncode ErrorCode = "E203"
)

// CompileError is a hard failure that stops compilation before a compiled
// graph exists.
type CompileError struct {
	Code      ErrorCode
	Message   string
	ParamName string
	NodeID    graph.NodeID
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.ParamName != "" {
		return fmt.Sprintf("%s: %s (param_name=%q, node=%s)", e.Code, e.Message, e.ParamName, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewMissingImageError reports an image control without a value.
func NewMissingImageError(paramName string, id graph.NodeID) *CompileError {
	return &CompileError{
		Code:      ErrCodeMissingImage,
		Message:   fmt.Sprintf("please upload an image for %q before generating", paramName),
		ParamName: paramName,
		NodeID:    id,
	}
}

// IsMissingImage reports whether err is a missing image failure.
// Uses errors.As to handle wrapped errors.
func IsMissingImage(err error) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeMissingImage
	}
	return false
}
