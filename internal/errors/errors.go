// Package errors provides structured errors for rendercache and the
// classification of render-engine failures into user-actionable categories.
package errors

import (
	"errors"
	"fmt"
)

// Category groups errors by what the user can do about them.
type Category string

const (
	// CategoryValidation covers preconditions checked before any
	// subprocess is spawned: missing executable, missing source file,
	// unwritable output directory.
	CategoryValidation Category = "validation"
	// CategoryResourceNotFound covers renders that failed because the
	// engine could not locate footage, compositions or other assets.
	CategoryResourceNotFound Category = "resource_not_found"
	// CategoryLicensing covers engine licensing and activation failures.
	CategoryLicensing Category = "licensing"
	// CategoryMemory covers out-of-memory aborts inside the engine.
	CategoryMemory Category = "memory"
	// CategoryOutputModule covers output-module and codec
	// incompatibilities.
	CategoryOutputModule Category = "output_module"
	// CategoryTimeout covers jobs cancelled after exceeding the per-job
	// ceiling.
	CategoryTimeout Category = "timeout"
	// CategoryInternal is the documented fallback for anything the
	// classifier cannot attribute.
	CategoryInternal Category = "internal"
)

// RenderError is the structured error type used across the core. The queue
// records its message on the Token; the HTTP layer serializes it.
type RenderError struct {
	Category Category               `json:"category"`
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// WithContext attaches a key/value pair to the error and returns it.
func (e *RenderError) WithContext(key string, value interface{}) *RenderError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a RenderError with the given category, code and message.
func New(category Category, code, message string) *RenderError {
	return &RenderError{Category: category, Code: code, Message: message}
}

// Wrap creates a RenderError wrapping a cause.
func Wrap(cause error, category Category, code, message string) *RenderError {
	return &RenderError{Category: category, Code: code, Message: message, Cause: cause}
}

// ValidationError creates a pre-spawn validation failure.
func ValidationError(code, message string) *RenderError {
	return New(CategoryValidation, code, message)
}

// TimeoutError creates the dedicated timeout failure.
func TimeoutError(tokenID string, minutes int) *RenderError {
	return New(CategoryTimeout, "ERR_RENDER_TIMEOUT",
		fmt.Sprintf("render exceeded the %d minute limit and was terminated", minutes)).
		WithContext("token_id", tokenID)
}

// IsCategory reports whether any error in the chain carries the category.
func IsCategory(err error, category Category) bool {
	for err != nil {
		var re *RenderError
		if errors.As(err, &re) {
			return re.Category == category
		}
		err = errors.Unwrap(err)
	}
	return false
}
