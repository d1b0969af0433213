package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := New(KindOverSettlement, "amount %d exceeds %d", 3001, 3000)
	wrapped := fmt.Errorf("settle: %w", err)

	if !errors.Is(wrapped, ErrOverSettlement) {
		t.Error("expected wrapped error to match ErrOverSettlement")
	}
	if errors.Is(wrapped, ErrSplitMismatch) {
		t.Error("did not expect a match against a different kind")
	}
	if got := KindOf(wrapped); got != KindOverSettlement {
		t.Errorf("KindOf = %q", got)
	}
}

func TestWithOp(t *testing.T) {
	typed := WithOp("ledger.AddExpense", New(KindNotAMember, "user %q", "mallory"))
	if !strings.HasPrefix(typed.Error(), "ledger.AddExpense: NotAMember") {
		t.Errorf("unexpected message %q", typed.Error())
	}

	raw := errors.New("disk I/O error")
	storage := WithOp("ledger.AddExpense", raw)
	if !errors.Is(storage, ErrStorageUnavailable) {
		t.Errorf("expected StorageUnavailable, got %v", storage)
	}
	if !errors.Is(storage, raw) {
		t.Error("expected the storage error to stay in the chain")
	}
	if !IsRetryable(storage) {
		t.Error("storage failures are retryable")
	}
	if IsRetryable(typed) {
		t.Error("validation failures are not retryable")
	}
	if WithOp("x", nil) != nil {
		t.Error("WithOp(nil) must be nil")
	}
}
