package tracking

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session exists in neither store
var ErrSessionNotFound = errors.New("session not found")

// ErrSnapshotNotFound is returned on a cache miss
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ValidationError marks structurally invalid input. Unlike storage
// anomalies, validation errors always propagate to the caller.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
