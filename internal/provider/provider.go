// Package provider talks to the language model that writes report text.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Prompt is a single system + user exchange.
type Prompt struct {
	System string
	User   string
}

// Generator produces report text for a prompt. Implementations must honour
// ctx cancellation; callers bound every call with a timeout.
type Generator interface {
	Generate(ctx context.Context, p Prompt, maxOutput int) (string, error)
}

// Error is a failed provider call: transport failure, timeout, rate limit,
// auth rejection or a non-2xx response.
type Error struct {
	StatusCode int // 0 when no response was received
	Retryable  bool
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsProviderError reports whether err came from a provider call.
func IsProviderError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
