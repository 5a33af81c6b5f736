package models

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds. Errors returned by the pipeline wrap one of these together with the cause,
// so callers classify with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrIngestion         = errors.New("ingestion failed")
	ErrIndexLoad         = errors.New("index load failed")
	ErrQuery             = errors.New("query failed")
	ErrConcurrentWrite   = errors.New("concurrent write conflict")
	ErrTimeout           = errors.New("operation timed out")
)

// Classify wraps err with kind. Deadline errors additionally wrap ErrTimeout.
func Classify(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w: %w", kind, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// WithTimeout marks deadline errors with ErrTimeout and returns other errors unchanged.
func WithTimeout(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTimeout, err)
}

// Kind returns a short code for the first failure kind err wraps, or "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrConcurrentWrite):
		return "concurrent_write_conflict"
	case errors.Is(err, ErrIndexLoad):
		return "index_load_failure"
	case errors.Is(err, ErrIngestion):
		return "ingestion_failure"
	case errors.Is(err, ErrQuery):
		return "query_failure"
	default:
		return "internal"
	}
}
