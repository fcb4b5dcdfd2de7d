package domain

import "errors"

// Domain errors
var (
	// Capacity errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCancelled = errors.New("session is cancelled")
	ErrSessionInPast    = errors.New("session has already started")
	ErrCapacityExceeded = errors.New("no seats left for this session")

	// Booking errors
	ErrBookingNotFound        = errors.New("booking not found")
	ErrDuplicateActiveBooking = errors.New("user already has an active booking for this session")
	ErrInvalidBookingStatus   = errors.New("invalid booking status")
	ErrStaleTransition        = errors.New("booking is no longer in the expected status")
	ErrIllegalTransition      = errors.New("transition is not allowed")
	ErrAmountMismatch         = errors.New("expected amount does not match session price")

	// Payment errors
	ErrPaymentGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidSignature          = errors.New("invalid webhook signature")
	ErrPaymentRecordNotFound     = errors.New("payment record not found")

	// Validation errors
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrInvalidBookingID = errors.New("invalid booking id")
	ErrInvalidAmount    = errors.New("amount cannot be negative")
	ErrInvalidPrice     = errors.New("invalid price")
)

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrPaymentRecordNotFound)
}

// IsUserRejection reports errors caused by the request itself, which a retry
// of the same request will not fix.
func IsUserRejection(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrSessionCancelled) ||
		errors.Is(err, ErrSessionInPast) ||
		errors.Is(err, ErrDuplicateActiveBooking) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrStaleTransition) ||
		errors.Is(err, ErrIllegalTransition) ||
		IsValidationError(err)
}

// IsRetryable reports errors the caller may retry unchanged
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPaymentGatewayUnavailable)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidSessionID) ||
		errors.Is(err, ErrInvalidBookingID) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidBookingStatus)
}
