package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error. Transport layers map kinds to status
// codes; services only ever create errors of a given kind.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindTransient     ErrorKind = "transient"
	KindSignature     ErrorKind = "signature"
	KindRateLimited   ErrorKind = "rate_limited"
)

// Error is a classified domain error. Code is a stable machine-readable
// identifier returned to API clients, Msg is safe to show to end users.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by code so that wrapped copies created with
// Wrap still satisfy errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap returns a copy of the sentinel carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: e.Msg, Err: cause}
}

// ErrNotFound is returned when an entity is not found in a store.
var ErrNotFound = &Error{Kind: KindNotFound, Code: "not_found", Msg: "entity not found"}

var (
	ErrInvalidInput  = &Error{Kind: KindValidation, Code: "invalid_input", Msg: "invalid input"}
	ErrUnauthorized  = &Error{Kind: KindAuthorization, Code: "unauthorized", Msg: "authentication required"}
	ErrForbidden     = &Error{Kind: KindAuthorization, Code: "forbidden", Msg: "not allowed"}
	ErrAdminRequired = &Error{Kind: KindAuthorization, Code: "admin_required", Msg: "administrator capability required"}

	ErrAlreadyPaid       = &Error{Kind: KindConflict, Code: "already_paid", Msg: "this ad has already been paid for"}
	ErrCheckoutOpen      = &Error{Kind: KindConflict, Code: "checkout_open", Msg: "a checkout for this ad is already open"}
	ErrPendingReview     = &Error{Kind: KindConflict, Code: "pending_review", Msg: "cannot change status while pending review"}
	ErrModerationLocked  = &Error{Kind: KindConflict, Code: "moderation_locked", Msg: "this ad was hidden by moderation"}
	ErrInvalidTransition = &Error{Kind: KindConflict, Code: "invalid_transition", Msg: "transition not allowed"}
	ErrReportResolved    = &Error{Kind: KindConflict, Code: "report_resolved", Msg: "report already resolved"}
	ErrPaymentNotSettled = &Error{Kind: KindConflict, Code: "payment_not_settled", Msg: "no completed payment for ad"}
	ErrStateContention   = &Error{Kind: KindTransient, Code: "state_contention", Msg: "state changed concurrently, retry"}

	ErrReservationUnavailable = &Error{Kind: KindTransient, Code: "reservation_unavailable", Msg: "pricing temporarily unavailable"}
	ErrProviderUnavailable    = &Error{Kind: KindTransient, Code: "provider_unavailable", Msg: "payment could not be started"}
	ErrUnknownSession         = &Error{Kind: KindTransient, Code: "unknown_session", Msg: "payment record not found"}

	ErrInvalidSignature = &Error{Kind: KindSignature, Code: "invalid_signature", Msg: "invalid signature"}
	ErrReportRateLimit  = &Error{Kind: KindRateLimited, Code: "rate_limited", Msg: "too many reports, try again later"}
)

// Invalid builds a validation error with a specific message.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: ErrInvalidInput.Code, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
