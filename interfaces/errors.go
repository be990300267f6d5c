package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestNotFound is returned when no purchase request exists for an id.
	ErrRequestNotFound = errors.New("purchase request not found")

	// ErrTokenNotFound is returned when an approver token resolves to no
	// record. Deliberately indistinguishable from a never-issued token.
	ErrTokenNotFound = errors.New("approver token not found")

	// ErrForbidden is returned on ownership or token/request mismatches.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition is returned when an operation is not legal in the
	// record's current approval status.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyProcessed is the InvalidTransition flavor for approvers that
	// already signed or rejected.
	ErrAlreadyProcessed = errors.New("approval already processed")

	// ErrOTPExpired is returned when no live code exists: none was issued, or
	// the validity window has passed. Checked before the code comparison.
	ErrOTPExpired = errors.New("otp expired")

	// ErrOTPMismatch is returned when the submitted code does not match the
	// stored one. The stored code is never included in the error.
	ErrOTPMismatch = errors.New("otp mismatch")

	// ErrConflict is returned by conditional store updates when the version or
	// status precondition no longer holds. Callers re-read and retry.
	ErrConflict = errors.New("conditional update conflict")

	// ErrStoreUnavailable is returned when the underlying persistence layer is
	// not accessible. Surfaced as a generic server fault; the core never
	// retries it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidLocationURI is returned for malformed or unsupported store
	// location URIs.
	ErrInvalidLocationURI = errors.New("invalid store location URI")
)

// ValidationError reports malformed or missing input. Fatal to the single
// request, never retried.
type ValidationError struct {
	Field string
	Msg   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
