package services

import (
	"errors"
	"fmt"
	"io"
)

// ErrInvalidResponse is returned when the provider answers with a success status but the body has no
// extractable text.
var ErrInvalidResponse = errors.New("invalid provider response")

// UpstreamError is returned when the provider answers with a non-success status. Body holds the
// provider's diagnostic, truncated, for logging; it is never sent back to relay callers.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// TransportError is returned when the provider can't be reached at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("error sending request: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

const (
	maxDiagnosticBody = 1024
	// MaxResponseBody caps how much of a provider response is read. A longer body is cut and fails to
	// decode, which surfaces as ErrInvalidResponse.
	MaxResponseBody = 4 << 20
)

func readBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, MaxResponseBody))
}

func truncateBody(b []byte) string {
	if len(b) > maxDiagnosticBody {
		return string(b[:maxDiagnosticBody]) + "..."
	}
	return string(b)
}
