package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransientError marks a provider failure that is worth retrying:
// rate limits, 5xx responses, timeouts, connection resets.
type TransientError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient provider error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient provider error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classifyHTTPError wraps a non-200 provider response, marking retryable
// statuses as transient. 429 and all 5xx retry; 4xx are caller errors.
func classifyHTTPError(provider string, status int, body string) error {
	err := fmt.Errorf("API error (status %d): %s", status, body)
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{Provider: provider, StatusCode: status, Err: err}
	}
	return fmt.Errorf("%s: %w", provider, err)
}

// classifyTransportError wraps request-level failures. Network errors and
// deadline expiry are transient; explicit cancellation is not.
func classifyTransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &TransientError{Provider: provider, Err: err}
	}
	return fmt.Errorf("%s: request failed: %w", provider, err)
}
