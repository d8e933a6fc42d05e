package record

import (
	"errors"
	"fmt"
)

// Validation errors returned to callers before any storage is touched.
var (
	ErrInvalidAmount   = errors.New("record: amount must be positive")
	ErrInvalidType     = errors.New("record: type must be income or expense")
	ErrUnknownCategory = errors.New("record: unknown category")
	ErrEmptyLabel      = errors.New("record: goal label is required")
	ErrInvalidTarget   = errors.New("record: goal target must be positive")
	ErrInvalidCurrent  = errors.New("record: goal current amount must not be negative")
)

// CategoryError reports a category that does not belong to the transaction type.
// Suggestion holds the closest known category, if any is close enough.
type CategoryError struct {
	Type       Type
	Category   string
	Suggestion string
}

func (e *CategoryError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("record: unknown %s category %q (did you mean %q?)", e.Type, e.Category, e.Suggestion)
	}
	return fmt.Sprintf("record: unknown %s category %q", e.Type, e.Category)
}

func (e *CategoryError) Unwrap() error {
	return ErrUnknownCategory
}

// IsValidation reports whether err is one of the record validation errors.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrUnknownCategory),
		errors.Is(err, ErrEmptyLabel),
		errors.Is(err, ErrInvalidTarget),
		errors.Is(err, ErrInvalidCurrent):
		return true
	}
	return false
}
