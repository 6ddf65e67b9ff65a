// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotFound        = errors.New("data not found")
	ErrMalformedData   = errors.New("malformed data")
	ErrPersistence     = errors.New("persistence failed")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrOutOfOrder      = errors.New("snapshot out of chronological order")
	ErrInputValidation = errors.New("input validation failed")
	ErrLocked          = errors.New("another run holds the lock")
)

// NotFoundError reports that a fund or instrument has no stored data.
// Callers treat it as an empty history.
type NotFoundError struct {
	Fund       string
	Instrument string
}

func (e *NotFoundError) Error() string {
	if e.Instrument != "" {
		return fmt.Sprintf("no data for instrument %s in fund %s", e.Instrument, e.Fund)
	}
	return fmt.Sprintf("no data for fund %s", e.Fund)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(fund, instrument string) *NotFoundError {
	return &NotFoundError{Fund: fund, Instrument: instrument}
}

// MalformedDataError reports stored data that cannot be decoded.
type MalformedDataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed data [%s]: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed data [%s]: %s", e.Path, e.Reason)
}

func (e *MalformedDataError) Unwrap() error { return e.Err }

func (e *MalformedDataError) Is(target error) bool { return target == ErrMalformedData }

// NewMalformedDataError creates a new MalformedDataError.
func NewMalformedDataError(path, reason string, err error) *MalformedDataError {
	return &MalformedDataError{Path: path, Reason: reason, Err: err}
}

// PersistenceError reports a failed durable write.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s] %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op, path string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Path: path, Err: err}
}

// ThresholdConfigError reports an invalid configuration value.
type ThresholdConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ThresholdConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ThresholdConfigError) Is(target error) bool { return target == ErrConfigInvalid }

// NewThresholdConfigError creates a new ThresholdConfigError.
func NewThresholdConfigError(field string, value interface{}, message string) *ThresholdConfigError {
	return &ThresholdConfigError{Field: field, Value: value, Message: message}
}

// OutOfOrderError reports a snapshot dated before the last stored one.
type OutOfOrderError struct {
	Fund string
	Last string
	Got  string
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("fund %s: snapshot dated %s is older than stored %s", e.Fund, e.Got, e.Last)
}

func (e *OutOfOrderError) Is(target error) bool { return target == ErrOutOfOrder }

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInputValidation }

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
