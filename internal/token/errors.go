package token

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrQRInactive         = errors.New("qr code is inactive")
	ErrQRMismatch         = errors.New("qr code belongs to another center")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var (
	ErrTokenNotFound  = fmt.Errorf("token %w", ErrNotFound)
	ErrCenterNotFound = fmt.Errorf("center %w", ErrNotFound)
	ErrQRCodeNotFound = fmt.Errorf("qr code %w", ErrNotFound)
)

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError reports an event that is not allowed from the token's
// current status.
type TransitionError struct {
	Current Status
	Event   Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s a %s token", ErrInvalidTransition, e.Event, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// StorageError wraps a backing store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageUnavailable, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

var (
	errDuplicateID   = errors.New("duplicate token id")
	errDuplicateCode = errors.New("duplicate qr code")
)
