package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups of a single record by id. Range and
// aggregate queries return empty results instead.
var ErrNotFound = errors.New("not found")

// ValidationError reports a record or argument rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a database failure with the operation that caused it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsStorage reports whether err is or wraps a *StorageError.
func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
