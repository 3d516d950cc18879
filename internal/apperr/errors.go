// Package apperr defines the error taxonomy shared by every settlement component.
//
// Each sentinel carries a stable code and a retryable flag so that callers can tell
// "retry later" (stale price, breaker tripped) apart from "never retry" (already
// exercised, bad signature). Packages wrap sentinels with fmt.Errorf("...: %w", ...)
// and classify with CodeOf / IsRetryable.
package apperr

import "errors"

// Error is a classified failure.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

// Error returns the message.
func (e *Error) Error() string {
	return e.Message
}

func newErr(code, msg string, retryable bool) *Error {
	return &Error{Code: code, Message: msg, Retryable: retryable}
}

var (
	ErrInvalidSpecification   = newErr("INVALID_SPECIFICATION", "invalid option specification", false)
	ErrInsufficientCollateral = newErr("INSUFFICIENT_COLLATERAL", "insufficient collateral", false)
	ErrOrderExpired           = newErr("ORDER_EXPIRED", "order expired", false)
	ErrOrderAlreadyFilled     = newErr("ORDER_ALREADY_FILLED", "order already filled", false)
	ErrOrderCancelled         = newErr("ORDER_CANCELLED", "order cancelled", false)
	ErrSignatureInvalid       = newErr("SIGNATURE_INVALID", "signature invalid", false)
	ErrAlreadyExercised       = newErr("ALREADY_EXERCISED", "option already exercised", false)
	ErrAlreadyExpired         = newErr("ALREADY_EXPIRED", "option already expired", false)
	ErrOptionExpired          = newErr("OPTION_EXPIRED", "option expired, call expire instead", false)
	ErrOptionNotYetExpired    = newErr("OPTION_NOT_YET_EXPIRED", "option not yet expired", true)
	ErrOptionNotFound         = newErr("OPTION_NOT_FOUND", "option not found", false)
	ErrExposureCapExceeded    = newErr("EXPOSURE_CAP_EXCEEDED", "exposure cap exceeded", true)
	ErrTokenNotAccepted       = newErr("TOKEN_NOT_ACCEPTED", "token not accepted as collateral", false)
	ErrStalePriceData         = newErr("STALE_PRICE_DATA", "stale price data", true)
	ErrUnauthorized           = newErr("UNAUTHORIZED", "unauthorized", false)
	ErrCircuitBreakerTripped  = newErr("CIRCUIT_BREAKER_TRIPPED", "circuit breaker tripped", true)
	ErrAssetNotFound          = newErr("ASSET_NOT_FOUND", "asset not found", false)
	ErrAssetExists            = newErr("ASSET_EXISTS", "asset already registered", false)
	ErrMarketOpen             = newErr("MARKET_OPEN", "authoritative market is open", true)
	ErrInsufficientFunds      = newErr("INSUFFICIENT_FUNDS", "insufficient funds", true)
	ErrInvalidArgument        = newErr("INVALID_ARGUMENT", "invalid argument", false)
)

// All lists every sentinel, used by the HTTP layer and the client to map codes back.
var All = []*Error{
	ErrInvalidSpecification,
	ErrInsufficientCollateral,
	ErrOrderExpired,
	ErrOrderAlreadyFilled,
	ErrOrderCancelled,
	ErrSignatureInvalid,
	ErrAlreadyExercised,
	ErrAlreadyExpired,
	ErrOptionExpired,
	ErrOptionNotYetExpired,
	ErrOptionNotFound,
	ErrExposureCapExceeded,
	ErrTokenNotAccepted,
	ErrStalePriceData,
	ErrUnauthorized,
	ErrCircuitBreakerTripped,
	ErrAssetNotFound,
	ErrAssetExists,
	ErrMarketOpen,
	ErrInsufficientFunds,
	ErrInvalidArgument,
}

// CodeOf returns the code of the first classified error in err's chain,
// or "INTERNAL" when none is found.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// IsRetryable reports whether the failure may succeed if retried later.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// FromCode returns the sentinel for a code, or nil.
func FromCode(code string) *Error {
	for _, e := range All {
		if e.Code == code {
			return e
		}
	}
	return nil
}
