package memory

import "errors"

// ErrNotFound is returned when a referenced memory, note, or relationship
// does not exist for the tenant.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed or out-of-range input. It is surfaced
// immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed on " + e.Field + ": " + e.Reason
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
