package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AdapterError wraps a provider failure with the HTTP status it arrived
// under. Status drives retry classification; Temporary forces it.
type AdapterError struct {
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("adapter error (status=%d)", e.Status)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// transient reports whether the wrapped failure is worth retrying: rate
// limiting, a server-side error, or an explicit Temporary flag.
func (e *AdapterError) transient() bool {
	if e.Temporary {
		return true
	}
	return e.Status == 429 || (e.Status >= 500 && e.Status <= 599)
}

// IsTransient reports whether err is safe to retry. Deadlines and network
// timeouts retry; cancellation and client errors do not.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var adapterErr *AdapterError
	return errors.As(err, &adapterErr) && adapterErr.transient()
}

// ShouldRetry combines transience with the attempt budget. The caller owns
// the backoff schedule between attempts.
func ShouldRetry(err error, attempt, maxRetries int) bool {
	return attempt < maxRetries && IsTransient(err)
}
