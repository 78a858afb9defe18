package core

import (
	"errors"
	"fmt"
)

// Error codes classifying pipeline failures. Handlers map these to HTTP
// status codes; everything else in the pipeline recovers locally via
// fallback chains or degraded results.
const (
	// ErrCodeInvalidInput marks malformed caller input (bad email,
	// missing image). Surfaced immediately, never retried.
	ErrCodeInvalidInput = "INVALID_INPUT"

	// ErrCodeProviderUnavailable marks an exhausted external-call fallback
	// chain with no graceful default left.
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"

	// ErrCodeAdmissionDenied marks a user-facing admission denial
	// (email missing or daily quota reached).
	ErrCodeAdmissionDenied = "ADMISSION_DENIED"

	// ErrCodeVendorDisabled marks a soft-disabled vendor integration
	// (missing credentials). Downstream stages tolerate this.
	ErrCodeVendorDisabled = "VENDOR_DISABLED"

	// ErrCodeTaskNotFound marks a poll against an unknown task id.
	ErrCodeTaskNotFound = "TASK_NOT_FOUND"
)

// PipelineError is a classified error carried up from a pipeline stage.
// The Code is stable for programmatic handling; Message is human-readable.
type PipelineError struct {
	Code    string
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError builds a PipelineError with the given code and formatted message.
func NewPipelineError(code, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapPipelineError builds a PipelineError wrapping a cause.
func WrapPipelineError(code string, err error, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ErrorCode extracts the pipeline error code from err, if any.
// Returns empty string for unclassified errors.
func ErrorCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsInvalidInput reports whether err is an InvalidInput pipeline error.
func IsInvalidInput(err error) bool {
	return ErrorCode(err) == ErrCodeInvalidInput
}

// IsAdmissionDenied reports whether err is an AdmissionDenied pipeline error.
func IsAdmissionDenied(err error) bool {
	return ErrorCode(err) == ErrCodeAdmissionDenied
}
