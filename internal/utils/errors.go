package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures raised inside the incident pipeline.
type ErrorKind string

const (
	KindDetectorFailure ErrorKind = "detector_failure"
	KindConfig          ErrorKind = "config"
	KindInput           ErrorKind = "input"
)

// AppError wraps an operation, a failure kind, a human-facing message and the
// underlying error.
type AppError struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op string, kind ErrorKind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
