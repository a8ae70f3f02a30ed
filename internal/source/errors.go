package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork reports that the remote resource could not be fetched.
	ErrNetwork = errors.New("source: network failure")

	// ErrDecode reports that the fetched bytes could not be turned into
	// audio, including a decoder that never produced its first frame.
	ErrDecode = errors.New("source: decode failure")

	// ErrClosed is returned by [Stream.Next] after the stream was closed.
	ErrClosed = errors.New("source: stream closed")
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Retryable reports whether a failed fetch is worth another attempt.
// Transport errors, 5xx and 429 are transient; any other status is final.
// Context cancellation is never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return true
}
