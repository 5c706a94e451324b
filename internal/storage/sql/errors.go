package sql

import (
	"errors"
	"fmt"
)

// StorageError is returned by all run store operations
type StorageError struct {
	message  string
	notFound bool
	cause    error
}

func (e *StorageError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.message, e.cause.Error())
	}
	return e.message
}

func (e *StorageError) Unwrap() error {
	return e.cause
}

func (e *StorageError) NotFound() bool {
	return e.notFound
}

func newStorageError(format string, args ...any) *StorageError {
	return &StorageError{message: fmt.Sprintf(format, args...)}
}

func newStorageErrorWithError(err error, format string, args ...any) *StorageError {
	return &StorageError{message: fmt.Sprintf(format, args...), cause: err}
}

func newNotFoundError(format string, args ...any) *StorageError {
	return &StorageError{message: fmt.Sprintf(format, args...), notFound: true}
}

// IsNotFoundError reports whether err is a storage error for a missing run.
func IsNotFoundError(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.NotFound()
	}
	return false
}

func getUnsupportedDriverError(driver string) error {
	return newStorageError("unsupported driver: %s", driver)
}
