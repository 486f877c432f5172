// Package errs defines the error kinds shared by the pipeline stages and the
// orchestrator, and classifies them as transient or fatal.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// InputValidationError reports malformed caller input. It is never retried.
type InputValidationError struct {
	Field   string
	Message string
}

func (e *InputValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Message)
}

// InvalidSelectionError reports a human selection that is empty, duplicated or
// names a post outside the interrupt's candidate set.
type InvalidSelectionError struct {
	IDs    []string
	Reason string
}

func (e *InvalidSelectionError) Error() string {
	if len(e.IDs) == 0 {
		return "invalid selection: " + e.Reason
	}
	return fmt.Sprintf("invalid selection: %s: %s", e.Reason, strings.Join(e.IDs, ", "))
}

// Unwrap lets errors.As match an InvalidSelectionError as an input validation error.
func (e *InvalidSelectionError) Unwrap() error {
	return &InputValidationError{Field: "selection", Message: e.Reason}
}

// SourceUnavailableError reports that the post source could not be reached or
// answered with an unusable status.
type SourceUnavailableError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("source %s unavailable (status %d): %v", e.Source, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("source %s unavailable (status %d)", e.Source, e.StatusCode)
	default:
		return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
	}
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// InferenceError reports a failed call to an inference or embedding backend.
type InferenceError struct {
	Backend    string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *InferenceError) Error() string {
	op := e.Op
	if op == "" {
		op = "infer"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s via %s failed (status %d): %s", op, e.Backend, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s via %s failed: %s", op, e.Backend, msg)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// InferenceTimeoutError reports a backend call that exceeded its deadline.
type InferenceTimeoutError struct {
	Backend string
	Op      string
}

func (e *InferenceTimeoutError) Error() string {
	op := e.Op
	if op == "" {
		op = "infer"
	}
	return fmt.Sprintf("%s via %s timed out", op, e.Backend)
}

// BudgetUnsatisfiableError reports that the mandatory messages alone exceed the
// token budget. It signals a configuration problem and is fatal.
type BudgetUnsatisfiableError struct {
	Budget   int
	Required int
}

func (e *BudgetUnsatisfiableError) Error() string {
	return fmt.Sprintf("token budget %d cannot hold mandatory messages (%d tokens)", e.Budget, e.Required)
}

// UnroutableTaskError reports a task complexity with no configured backend.
type UnroutableTaskError struct {
	Complexity string
	Backend    string
}

func (e *UnroutableTaskError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("no backend %q configured for %s tasks", e.Backend, e.Complexity)
	}
	return fmt.Sprintf("no backend mapped for complexity %q", e.Complexity)
}

// Retryable reports whether err is a transient failure worth another attempt.
func Retryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var timeout *InferenceTimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var src *SourceUnavailableError
	if errors.As(err, &src) {
		return retryableStatus(src.StatusCode)
	}
	var inf *InferenceError
	if errors.As(err, &inf) {
		return retryableStatus(inf.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

// retryableStatus treats transport failures (no status), throttling and
// server errors as transient. Other client errors will not improve on retry.
func retryableStatus(code int) bool {
	switch {
	case code == 0:
		return true
	case code == 408 || code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err is a configuration-contract or input violation
// that must abort the operation without retry.
func IsFatal(err error) bool {
	var budget *BudgetUnsatisfiableError
	var route *UnroutableTaskError
	var input *InputValidationError
	return errors.As(err, &budget) || errors.As(err, &route) || errors.As(err, &input)
}

