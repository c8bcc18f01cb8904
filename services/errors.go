package services

import (
	"github.com/pkg/errors"
)

type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindDependencyFailure ErrorKind = "dependency_failure"
	KindInternal          ErrorKind = "internal"
)

// Error is the error type returned by every service operation.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind and message so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

var (
	ErrCodeRequired          = newError(KindInvalidInput, "referral code is required")
	ErrUserRequired          = newError(KindInvalidInput, "user id is required")
	ErrInvalidRewardType     = newError(KindInvalidInput, "reward type must be free_month or draw_entries")
	ErrInvalidTicketQuantity = newError(KindInvalidInput, "ticket quantity must be at least 1")
	ErrInvalidPeriod         = newError(KindInvalidInput, "draw month must be 1-12")
	ErrPaymentFieldsRequired = newError(KindInvalidInput, "bank name, account holder and account number are required")

	ErrCodeNotFound          = newError(KindNotFound, "invalid referral code")
	ErrReferralNotFound      = newError(KindNotFound, "referral not found")
	ErrDrawNotFound          = newError(KindNotFound, "draw not found")
	ErrPaymentDetailNotFound = newError(KindNotFound, "payment details not found")
	ErrNotificationNotFound  = newError(KindNotFound, "notification not found")
	ErrUserNotFound          = newError(KindNotFound, "user not found")

	ErrSelfReferral             = newError(KindConflict, "cannot use your own referral code")
	ErrReferralAlreadyProcessed = newError(KindConflict, "referral already processed")
	ErrRewardAlreadyChosen      = newError(KindConflict, "reward already chosen for this referral")
	ErrDrawAlreadyCompleted     = newError(KindConflict, "draw already completed for this period")
	ErrNoEntries                = newError(KindConflict, "no active draw entries")
	ErrPaymentAlreadyClaimed    = newError(KindConflict, "payment details already submitted")
	ErrPaymentNotClaimed        = newError(KindConflict, "payment not claimed")
	ErrPaymentNotPending        = newError(KindConflict, "payment details already verified")

	ErrNotEligible = newError(KindUnauthorized, "not eligible for payment")
	ErrNotReferrer = newError(KindUnauthorized, "referral belongs to another user")
)

func internalError(err error, msg string) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: errors.WithStack(err)}
}

func dependencyError(err error, msg string) error {
	return &Error{Kind: KindDependencyFailure, Msg: msg, Err: errors.WithStack(err)}
}

// KindOf reports the kind of err, defaulting to internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
