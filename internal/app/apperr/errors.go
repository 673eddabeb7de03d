package apperr

import "net/http"

// Error is an application-layer error that can be mapped to an HTTP response.
//
// Two errors are considered the same (errors.Is) when their Codes match, so the sentinels
// below can be compared against errors that carry extra Message or Details.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	out := *e
	out.Message = msg
	return &out
}

// WithStatus returns a copy of e answered with a different HTTP status.
func (e *Error) WithStatus(status int) *Error {
	out := *e
	out.Status = status
	return &out
}

// WithDetails returns a copy of e carrying details for the response body.
func (e *Error) WithDetails(details map[string]any) *Error {
	out := *e
	out.Details = details
	return &out
}

var (
	ErrUnauthenticated = &Error{Status: http.StatusUnauthorized, Code: "UNAUTHENTICATED", Message: "no valid session or token"}
	ErrTokenMalformed  = &Error{Status: http.StatusBadRequest, Code: "TOKEN_MALFORMED", Message: "identity token is malformed"}
	ErrTokenExpired    = &Error{Status: http.StatusUnauthorized, Code: "TOKEN_EXPIRED", Message: "identity token is too old"}

	ErrWalletNotLinked          = &Error{Status: http.StatusBadRequest, Code: "WALLET_NOT_LINKED", Message: "wallet not linked"}
	ErrPlatformAccountNotLinked = &Error{Status: http.StatusBadRequest, Code: "PLATFORM_ACCOUNT_NOT_LINKED", Message: "GitHub account not connected"}
	ErrPlatformIDConflict       = &Error{Status: http.StatusConflict, Code: "PLATFORM_ACCOUNT_CONFLICT", Message: "identity is already bound to a different GitHub account"}

	ErrInvalidSignature = &Error{Status: http.StatusBadRequest, Code: "INVALID_SIGNATURE", Message: "invalid signature"}
	ErrInvalidAddress   = &Error{Status: http.StatusBadRequest, Code: "INVALID_ADDRESS", Message: "invalid wallet address"}

	ErrRecipientResolutionFailed = &Error{Status: http.StatusBadRequest, Code: "RECIPIENT_RESOLUTION_FAILED", Message: "recipient could not be resolved"}
	ErrInvalidAmount             = &Error{Status: http.StatusBadRequest, Code: "INVALID_AMOUNT", Message: "amount must be a finite, non-negative number"}
	ErrInvalidVoucherID          = &Error{Status: http.StatusBadRequest, Code: "INVALID_VOUCHER_ID", Message: "invalid voucher id"}
	ErrSeedTooLong               = &Error{Status: http.StatusBadRequest, Code: "SEED_TOO_LONG", Message: "address seed exceeds the ledger's limit"}

	ErrNotRecipient    = &Error{Status: http.StatusBadRequest, Code: "NOT_RECIPIENT", Message: "voucher belongs to a different GitHub account"}
	ErrNotPending      = &Error{Status: http.StatusConflict, Code: "NOT_PENDING", Message: "voucher is no longer pending"}
	ErrVoucherNotFound = &Error{Status: http.StatusNotFound, Code: "VOUCHER_NOT_FOUND", Message: "voucher not found"}

	ErrUpstreamUnavailable = &Error{Status: http.StatusBadGateway, Code: "UPSTREAM_UNAVAILABLE", Message: "upstream service unavailable"}
	ErrValidation          = &Error{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid request"}

	ErrIdempotencyKeyReuse = &Error{Status: http.StatusConflict, Code: "IDEMPOTENCY_KEY_REUSE", Message: "idempotency key reuse with different payload"}
	ErrIdempotencyInFlight = &Error{Status: http.StatusConflict, Code: "IDEMPOTENCY_IN_FLIGHT", Message: "a request with this idempotency key is still in progress"}
	ErrInternal            = &Error{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
)
