package models

import (
	"fmt"
	"strings"
)

// ValidationError rejects a single input row. It never aborts a batch.
type ValidationError struct {
	Field  string
	Reason string
	Value  string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason, value string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Value: value}
}

// ConflictError reports a row whose identity key is stored with different data.
// The stored record is left untouched.
type ConflictError struct {
	CompanyID string
	TradeDate string
	Fields    []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting record for %s on %s: %s differ from stored values",
		e.CompanyID, e.TradeDate, strings.Join(e.Fields, ", "))
}

// StorageError is a transactional or connectivity failure. It aborts the current operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
