package library

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a book, member or transaction does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on uniqueness violations and on business-rule
	// blocks such as deleting a member who still holds books.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable is returned when no copy of a book is left to lend.
	ErrUnavailable = errors.New("no copies available")

	// ErrLimitExceeded is returned when a member is at their borrowing cap.
	ErrLimitExceeded = errors.New("borrowing limit reached")

	// ErrInvalidInput is returned for malformed request values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInventoryInconsistent means a copy-count update would break
	// 0 <= copies_available <= copies_total. It should never happen.
	ErrInventoryInconsistent = errors.New("inventory inconsistent")
)

// ValidationError describes an invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}
