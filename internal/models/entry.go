package models

import (
	"time"

	"github.com/mmynk/splitledger/internal/money"
)

// EntryKind is the type of money-moving event.
type EntryKind string

const (
	EntryExpense    EntryKind = "expense"
	EntryDeposit    EntryKind = "deposit"
	EntrySettlement EntryKind = "settlement"
)

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	return k == EntryExpense || k == EntryDeposit || k == EntrySettlement
}

// LedgerEntry is an immutable, append-only money-moving event.
//
// The payer is credited Total and every allocation key is debited its
// allocation. A settlement has a single allocation: the payee.
type LedgerEntry struct {
	// ID is the unique identifier for the entry (UUID format).
	ID      string `json:"id"`
	GroupID string `json:"groupId"`

	// Seq is the entry's position in the group's ledger, starting at 1.
	// Assigned by the store on append.
	Seq int64 `json:"seq"`

	Kind  EntryKind   `json:"kind"`
	Total money.Money `json:"total"`

	// PayerID is the member credited with Total. For settlements this is
	// the debtor settling up.
	PayerID string `json:"payerId"`

	// Allocations maps each debited member to their share. The values
	// always sum to Total exactly.
	Allocations map[string]money.Money `json:"allocations"`

	Note string `json:"note,omitempty"`

	// ReversesEntryID is set on compensating entries and names the entry
	// whose effect they cancel.
	ReversesEntryID string `json:"reversesEntryId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
}

// AllocationSum returns the sum of all allocations in the entry's currency,
// or money.ErrOverflow if it does not fit in int64.
func (e *LedgerEntry) AllocationSum() (money.Money, error) {
	sum := money.Zero(e.Total.Currency)
	for _, a := range e.Allocations {
		var err error
		if sum, err = sum.CheckedAdd(a); err != nil {
			return money.Money{}, err
		}
	}
	return sum, nil
}

// Participants returns every user referenced by the entry: the payer and
// all allocation keys.
func (e *LedgerEntry) Participants() []string {
	seen := map[string]bool{e.PayerID: true}
	out := []string{e.PayerID}
	for userID := range e.Allocations {
		if !seen[userID] {
			seen[userID] = true
			out = append(out, userID)
		}
	}
	return out
}

// IsReversal reports whether the entry compensates an earlier entry.
func (e *LedgerEntry) IsReversal() bool { return e.ReversesEntryID != "" }
