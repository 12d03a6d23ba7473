package lending

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine maps to exactly one of them via KindOf.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrInternal   = errors.New("internal error")
)

// ErrConcurrencyConflict signals that a conditional update affected no rows because the row
// changed since it was read. The whole unit of work can be retried.
var ErrConcurrencyConflict = errors.New("concurrency conflict, no rows were affected")

var (
	ErrMaterialNotFound   = fmt.Errorf("material %w", ErrNotFound)
	ErrDeviceNotFound     = fmt.Errorf("device %w", ErrNotFound)
	ErrLoanNotFound       = fmt.Errorf("loan %w", ErrNotFound)
	ErrDeviceLoanNotFound = fmt.Errorf("device loan %w", ErrNotFound)

	ErrBorrowerBlacklisted = fmt.Errorf("%w: borrower is blacklisted", ErrForbidden)
	ErrNotLoanOwner        = fmt.Errorf("%w: loan belongs to another borrower", ErrForbidden)
	ErrMissingCapability   = fmt.Errorf("%w: missing capability", ErrForbidden)

	ErrIllegalTransition        = fmt.Errorf("%w: illegal state transition", ErrConflict)
	ErrPersonalLoanLimitReached = fmt.Errorf("%w: personal loan limit reached", ErrConflict)
	ErrDeviceUnavailable        = fmt.Errorf("%w: device is not available", ErrConflict)
	ErrMaterialHasActiveLoans   = fmt.Errorf("%w: material has active loans", ErrConflict)
	ErrInventoryExceeded        = fmt.Errorf("%w: released copies exceed copies total", ErrConflict)
	ErrRetriesExhausted         = fmt.Errorf("%w: concurrent updates kept conflicting", ErrConflict)

	ErrMissingClassDetails  = fmt.Errorf("%w: class loans need a class and participants", ErrValidation)
	ErrUnexpectedClassData  = fmt.Errorf("%w: personal loans cannot carry class data", ErrValidation)
	ErrDuplicateParticipant = fmt.Errorf("%w: duplicate participant", ErrValidation)
	ErrInvalidLoanKind      = fmt.Errorf("%w: unknown loan kind", ErrValidation)
	ErrInvalidLoanDays      = fmt.Errorf("%w: loan days must not be negative", ErrValidation)
	ErrInvalidCopies        = fmt.Errorf("%w: copies must not be negative", ErrValidation)
	ErrInvalidSetting       = fmt.Errorf("%w: setting value out of range", ErrValidation)
	ErrUnknownSetting       = fmt.Errorf("%w: unknown setting", ErrValidation)
	ErrMissingID            = fmt.Errorf("%w: identifier must not be empty", ErrValidation)
	ErrMissingName          = fmt.Errorf("%w: name must not be empty", ErrValidation)
)

// ErrorKind classifies an error for callers that map failures to responses.
type ErrorKind int

// Error kinds as returned by KindOf.
const (
	KindNone ErrorKind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindValidation
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// KindOf classifies err. Errors that carry none of the kind sentinels are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// InternalError hides storage and infrastructure details from callers.
// The cause stays reachable with errors.Is and errors.As.
type InternalError struct {
	Operation string
	cause     error
}

// NewInternalError wraps cause as an internal failure of operation.
func NewInternalError(operation string, cause error) *InternalError {
	return &InternalError{Operation: operation, cause: cause}
}

func (e *InternalError) Error() string {
	return "internal error during " + e.Operation
}

// Unwrap exposes both the kind sentinel and the original cause.
func (e *InternalError) Unwrap() []error {
	return []error{ErrInternal, e.cause}
}

// IsCancellation reports whether err stems from a canceled or expired context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
