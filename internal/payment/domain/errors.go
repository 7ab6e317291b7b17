package domain

import (
	"errors"
)

// Error is a payment error with a stable code. Errors form a shallow tree:
// a specific error unwraps to its category, so errors.Is matches both.
type Error struct {
	Code    string
	Message string
	parent  error
}

func newError(code, message string, parent error) *Error {
	return &Error{Code: code, Message: message, parent: parent}
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.parent }

// Categories
var (
	ErrMerchantValidation = newError("MERCHANT_VALIDATION_FAILED", "merchant validation failed", nil)
	ErrCardValidation     = newError("CARD_VALIDATION_FAILED", "card validation failed", nil)
)

// Session and request errors. These surface before a payment exists.
var (
	ErrSessionNotFound         = newError("SESSION_NOT_FOUND", "payment session not found", nil)
	ErrSessionExpired          = newError("SESSION_EXPIRED", "payment session expired", nil)
	ErrSessionConflict         = newError("SESSION_CONFLICT", "payment session exists with different payment details", nil)
	ErrSessionDuplicate        = newError("SESSION_DUPLICATE", "ongoing payment session already exists for order", nil)
	ErrIdempotencyConflict     = newError("IDEMPOTENCY_CONFLICT", "idempotency key reused with a different request", nil)
	ErrDuplicatePaymentRequest = newError("DUPLICATE_PAYMENT_REQUEST", "payment request already in progress", nil)
	ErrPaymentAlreadySubmitted = newError("PAYMENT_ALREADY_SUBMITTED", "payment already submitted for this payment key", nil)
	ErrInvalidAmount           = newError("INVALID_AMOUNT", "payment amount is invalid", nil)
	ErrInvalidOrderLines       = newError("INVALID_ORDER_LINES", "order lines are invalid", nil)
	ErrInvalidRequest          = newError("INVALID_REQUEST", "payment request is invalid", nil)
	ErrGateBusy                = newError("PAYMENT_IN_PROGRESS", "another request for this order is in progress", nil)
)

// Merchant contract errors.
var (
	ErrContractExpired         = newError("CONTRACT_EXPIRED", "merchant contract expired", ErrMerchantValidation)
	ErrMerchantSuspended       = newError("MERCHANT_SUSPENDED", "merchant is suspended", ErrMerchantValidation)
	ErrMerchantTerminated      = newError("MERCHANT_TERMINATED", "merchant contract is terminated", ErrMerchantValidation)
	ErrPaymentMethodNotAllowed = newError("PAYMENT_METHOD_NOT_ALLOWED", "payment method not allowed for merchant", ErrMerchantValidation)
	ErrAmountBelowMinimum      = newError("AMOUNT_BELOW_MINIMUM", "amount is below the minimum payment amount", ErrMerchantValidation)
	ErrMerchantLimitExceeded   = newError("MERCHANT_LIMIT_EXCEEDED", "merchant payment limit exceeded", ErrMerchantValidation)
)

// Card errors.
var (
	ErrInvalidLength   = newError("CARD_INVALID_LENGTH", "card number must be 13 to 19 digits", ErrCardValidation)
	ErrInvalidChecksum = newError("CARD_INVALID_CHECKSUM", "card number checksum is invalid", ErrCardValidation)
	ErrInvalidExpiry   = newError("CARD_INVALID_EXPIRY", "card expiry is invalid", ErrCardValidation)
	ErrCardExpired     = newError("CARD_EXPIRED", "card is expired", ErrCardValidation)
)

var (
	ErrFraudDetected            = newError("FRAUD_DETECTED", "fraud detected", nil)
	ErrUnsupportedPaymentMethod = newError("UNSUPPORTED_PAYMENT_METHOD", "unsupported payment method", nil)
	ErrInstallmentUnavailable   = newError("INSTALLMENT_NOT_AVAILABLE", "requested installment is not available", nil)
	ErrInvalidPromotion         = newError("INVALID_PROMOTION", "promotion definition is invalid", nil)
	ErrPromotionExceedsAmount   = newError("PROMOTION_EXCEEDS_AMOUNT", "promotions would take the payment below the minimum amount", nil)
	ErrPaymentNotFound          = newError("PAYMENT_NOT_FOUND", "payment not found", nil)
	ErrBinNotFound              = newError("BIN_NOT_FOUND", "card BIN not recognised", nil)
	ErrMerchantNotFound         = newError("MERCHANT_NOT_FOUND", "merchant contract not found", nil)
	ErrVersionConflict          = newError("VERSION_CONFLICT", "payment was modified concurrently", nil)

	// ErrIllegalTransition signals a state machine violation. It is a
	// programming error, never a business outcome.
	ErrIllegalTransition = newError("ILLEGAL_TRANSITION", "illegal payment state transition", nil)
)

// FraudError carries the rule's reason.
type FraudError struct {
	Reason string
}

func (e *FraudError) Error() string { return "fraud detected: " + e.Reason }

func (e *FraudError) Unwrap() error { return ErrFraudDetected }

// NewFraudError returns a fraud error for reason.
func NewFraudError(reason string) *FraudError {
	return &FraudError{Reason: reason}
}

// DefaultErrorCode is recorded when a failure carries no payment error code.
const DefaultErrorCode = "VALIDATION_FAILED"

// ErrorCode returns the most specific code in err's chain.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return DefaultErrorCode
}
