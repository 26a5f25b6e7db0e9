package inference

import (
	"context"
	"errors"
)

// Class separates gateway failures the pipeline may retry from those it
// must not. Context cancellation is neither: it propagates as-is.
type Class int

const (
	// ClassTransient marks failures worth another attempt: timeouts,
	// rate limits, 5xx responses, connection resets.
	ClassTransient Class = iota
	// ClassPermanent marks failures that will not go away on retry:
	// invalid requests, auth failures, content rejections.
	ClassPermanent
)

// ClassifiedError wraps a gateway failure with its retry class.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable gateway failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable gateway failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassPermanent, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified
// errors default to transient so flaky providers get a second chance;
// context cancellation never does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}
	return true
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Class == ClassPermanent
}
