// Package apperrors defines the typed failures returned by the ledger.
//
// Every failure carries a Kind. Validation kinds are recoverable by the
// caller; StorageUnavailable is the only kind that means "try again later".
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotAMember             Kind = "NotAMember"
	KindAmountMismatch         Kind = "AmountMismatch"
	KindSplitMismatch          Kind = "SplitMismatch"
	KindInvalidSplit           Kind = "InvalidSplit"
	KindOverSettlement         Kind = "OverSettlement"
	KindInvitationExpired      Kind = "InvitationExpired"
	KindDuplicateInvitation    Kind = "DuplicateInvitation"
	KindInvalidStateTransition Kind = "InvalidStateTransition"
	KindGroupArchived          Kind = "GroupArchived"
	KindStorageUnavailable     Kind = "StorageUnavailable"

	KindNotFound        Kind = "NotFound"
	KindInvalidArgument Kind = "InvalidArgument"
	KindForbidden       Kind = "Forbidden"
	KindAlreadyMember   Kind = "AlreadyMember"

	// KindInternal is a local fault that is neither a validation failure
	// nor a storage outage, e.g. the system random source failing.
	KindInternal Kind = "Internal"
)

// Error is a typed ledger failure.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "ledger.SettleDebt".
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotAMember             = &Error{Kind: KindNotAMember}
	ErrAmountMismatch         = &Error{Kind: KindAmountMismatch}
	ErrSplitMismatch          = &Error{Kind: KindSplitMismatch}
	ErrInvalidSplit           = &Error{Kind: KindInvalidSplit}
	ErrOverSettlement         = &Error{Kind: KindOverSettlement}
	ErrInvitationExpired      = &Error{Kind: KindInvitationExpired}
	ErrDuplicateInvitation    = &Error{Kind: KindDuplicateInvitation}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrGroupArchived          = &Error{Kind: KindGroupArchived}
	ErrStorageUnavailable     = &Error{Kind: KindStorageUnavailable}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrAlreadyMember          = &Error{Kind: KindAlreadyMember}
	ErrInternal               = &Error{Kind: KindInternal}
)

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithOp stamps the operation name on err if it is an *Error without one.
// Untyped errors are wrapped as StorageUnavailable, so callers must wrap
// non-storage faults with an explicit kind before they reach WithOp.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" {
			return err
		}
		cp := *e
		cp.Op = op
		return &cp
	}
	return Wrap(KindStorageUnavailable, op, err)
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same request later.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStorageUnavailable
}
