package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
)

// Sentinel errors matched with errors.Is against *Error.
var (
	ErrTimeout       = errors.New("generation timed out")
	ErrProviderError = errors.New("generation provider error")
	ErrRateLimited   = errors.New("generation rate limited")

	// ErrNoChoicesReturned is returned when the provider answers without a choice.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyResponse is returned when the provider answers with blank text.
	ErrEmptyResponse = errors.New("empty response")
	// ErrMissingAPIKey is returned by constructors that need credentials.
	ErrMissingAPIKey = errors.New("API key not set")
)

// Kind classifies generation failures.
type Kind int

const (
	KindProviderError Kind = iota
	KindTimeout
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "provider_error"
	}
}

// Error is returned by every generator.
type Error struct {
	Kind  Kind
	Model string
	Err   error
}

func (e *Error) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("genai %s (model %s): %v", e.Kind, e.Model, e.Err)
	}
	return fmt.Sprintf("genai %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrProviderError:
		return e.Kind == KindProviderError
	}
	return false
}

// wrapError converts a raw client error into *Error.
func wrapError(model string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Model: model, Err: err}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return &Error{Kind: KindRateLimited, Model: model, Err: err}
	}
	return &Error{Kind: KindProviderError, Model: model, Err: err}
}

// IsRetryable reports whether another attempt may succeed. Canceled
// contexts are not retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderError)
}
