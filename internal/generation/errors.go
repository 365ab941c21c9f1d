// Package generation calls the external speech and video generation services.
package generation

import (
	"errors"
	"fmt"
	"net/http"

	"moltstudio/internal/screenplay"
)

var (
	// ErrTerminal marks failures that will not succeed on retry
	// (malformed input, rejected request, unusable response).
	ErrTerminal = errors.New("terminal generation failure")

	// ErrRetryable marks transient failures (timeouts, rate limits, 5xx).
	ErrRetryable = errors.New("retryable generation failure")
)

// Outcome is the retry classification of a generation failure.
type Outcome string

const (
	OutcomeTerminal  Outcome = "terminal"
	OutcomeRetryable Outcome = "retryable"
)

// Terminal tags a failure as terminal.
func Terminal(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTerminal, fmt.Sprintf(format, args...))
}

// Retryable tags a failure as retryable.
func Retryable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRetryable, fmt.Sprintf(format, args...))
}

// Classify maps any error onto an outcome. Untagged errors, including
// timeouts and transport failures, are retryable.
func Classify(err error) Outcome {
	if errors.Is(err, ErrTerminal) || errors.Is(err, screenplay.ErrInvalid) {
		return OutcomeTerminal
	}
	return OutcomeRetryable
}

// statusError tags a non-2xx upstream response.
func statusError(service string, code int, body string) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return Terminal("%s returned %d: %s", service, code, body)
	default:
		return Retryable("%s returned %d: %s", service, code, body)
	}
}
