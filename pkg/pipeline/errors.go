package pipeline

import (
	"fmt"
	"time"
)

// Code classifies pipeline failures for the transport layer.
type Code string

const (
	CodeRateLimited Code = "rate_limited"
	CodeParse       Code = "parse"
	CodeDelegate    Code = "delegate"
	CodeInternal    Code = "internal"
)

// Error is a fatal pipeline failure: no envelope was produced. Non-fatal
// problems travel inside the envelope's error records instead.
type Error struct {
	Code    Code
	Message string
	// RetryAfter is set for rate-limited failures.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func rateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "too many requests",
		RetryAfter: retryAfter,
	}
}
