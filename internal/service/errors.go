package service

import (
	"errors"

	"connectrpc.com/connect"
	"github.com/mmynk/splitledger/internal/apperrors"
)

// ErrorKindHeader carries the ledger error kind on failed responses so
// clients can branch on it without parsing messages.
const ErrorKindHeader = "Ledger-Error-Kind"

var codes = map[apperrors.Kind]connect.Code{
	apperrors.KindNotFound:               connect.CodeNotFound,
	apperrors.KindInvalidArgument:        connect.CodeInvalidArgument,
	apperrors.KindInvalidSplit:           connect.CodeInvalidArgument,
	apperrors.KindSplitMismatch:          connect.CodeInvalidArgument,
	apperrors.KindAmountMismatch:         connect.CodeInvalidArgument,
	apperrors.KindNotAMember:             connect.CodePermissionDenied,
	apperrors.KindForbidden:              connect.CodePermissionDenied,
	apperrors.KindOverSettlement:         connect.CodeFailedPrecondition,
	apperrors.KindGroupArchived:          connect.CodeFailedPrecondition,
	apperrors.KindInvalidStateTransition: connect.CodeFailedPrecondition,
	apperrors.KindInvitationExpired:      connect.CodeFailedPrecondition,
	apperrors.KindDuplicateInvitation:    connect.CodeAlreadyExists,
	apperrors.KindAlreadyMember:          connect.CodeAlreadyExists,
	apperrors.KindStorageUnavailable:     connect.CodeUnavailable,
	apperrors.KindInternal:               connect.CodeInternal,
}

// toConnectError converts a ledger error into a connect error with the
// matching code and the kind header set.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}

	kind := apperrors.KindOf(err)
	code, ok := codes[kind]
	if !ok {
		code = connect.CodeInternal
	}
	connectErr = connect.NewError(code, err)
	if kind != "" {
		connectErr.Meta().Set(ErrorKindHeader, string(kind))
	}
	return connectErr
}

// ErrorKind returns the ledger error kind reported by a server, or "".
func ErrorKind(err error) apperrors.Kind {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return apperrors.Kind(connectErr.Meta().Get(ErrorKindHeader))
	}
	return ""
}
