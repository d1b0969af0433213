package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/apperrors"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/internal/storage"
)

const (
	// DefaultPageSize is used when a Page has no limit.
	DefaultPageSize = 50
	// MaxPageSize caps Page.Limit.
	MaxPageSize = 500
)

// ExpenseInput describes an expense or deposit.
type ExpenseInput struct {
	GroupID      string
	ActorID      string
	Total        money.Money
	PayerID      string
	Policy       calculator.SplitPolicy
	Participants []string
	Note         string
}

// SettlementInput describes a payment from one member to another.
type SettlementInput struct {
	GroupID    string
	ActorID    string
	FromUserID string
	ToUserID   string
	Amount     money.Money
	Note       string
}

// Page selects a window of a group's ledger.
type Page struct {
	AfterSeq int64
	Limit    int
}

// EntryPage is one window of a group's ledger. NextAfterSeq is the cursor
// for the following page, or zero when there are no more entries.
type EntryPage struct {
	Entries      []*models.LedgerEntry
	NextAfterSeq int64
}

// AddExpense records money a member paid on behalf of the participants.
func (l *Ledger) AddExpense(ctx context.Context, in ExpenseInput) (*models.LedgerEntry, error) {
	return l.addSplitEntry(ctx, "ledger.AddExpense", models.EntryExpense, in)
}

// AddDeposit records a contribution to the group. Deposits are booked like
// expenses: the payer is credited and the participants are debited by
// their allocations.
func (l *Ledger) AddDeposit(ctx context.Context, in ExpenseInput) (*models.LedgerEntry, error) {
	return l.addSplitEntry(ctx, "ledger.AddDeposit", models.EntryDeposit, in)
}

func (l *Ledger) addSplitEntry(ctx context.Context, op string, kind models.EntryKind, in ExpenseInput) (*models.LedgerEntry, error) {
	unlock := l.locks.lock(in.GroupID)
	defer unlock()

	g, err := l.activeGroup(ctx, in.GroupID)
	if err != nil {
		return nil, l.fail(op, err)
	}
	if _, err := l.member(ctx, g.ID, in.ActorID); err != nil {
		return nil, l.fail(op, err)
	}
	if err := checkCurrency(g, in.Total); err != nil {
		return nil, l.fail(op, err)
	}

	allocations, err := calculator.Split(in.Total, in.Policy, in.Participants)
	if err != nil {
		return nil, l.fail(op, err)
	}

	e := &models.LedgerEntry{
		ID:          uuid.NewString(),
		GroupID:     g.ID,
		Kind:        kind,
		Total:       in.Total,
		PayerID:     in.PayerID,
		Allocations: allocations,
		Note:        in.Note,
		CreatedBy:   in.ActorID,
	}
	if err := l.appendEntry(ctx, g, e); err != nil {
		return nil, l.fail(op, err)
	}
	return e, nil
}

// SettleDebt records a payment from FromUserID to ToUserID. The amount may
// not exceed what FromUserID owes and ToUserID is owed, so a settlement
// never pushes either balance past zero. The actor must be one of the two
// parties or a group admin.
func (l *Ledger) SettleDebt(ctx context.Context, in SettlementInput) (*models.LedgerEntry, error) {
	const op = "ledger.SettleDebt"

	if !in.Amount.IsPositive() {
		return nil, l.fail(op, invalid("settlement amount must be positive, got %s", in.Amount))
	}
	if in.FromUserID == in.ToUserID {
		return nil, l.fail(op, invalid("cannot settle with yourself"))
	}

	unlock := l.locks.lock(in.GroupID)
	defer unlock()

	g, err := l.activeGroup(ctx, in.GroupID)
	if err != nil {
		return nil, l.fail(op, err)
	}
	if err := checkCurrency(g, in.Amount); err != nil {
		return nil, l.fail(op, err)
	}
	actor, err := l.member(ctx, g.ID, in.ActorID)
	if err != nil {
		return nil, l.fail(op, err)
	}
	for _, userID := range []string{in.FromUserID, in.ToUserID} {
		if _, err := l.member(ctx, g.ID, userID); err != nil {
			return nil, l.fail(op, err)
		}
	}
	if in.ActorID != in.FromUserID && in.ActorID != in.ToUserID && !actor.IsAdmin() {
		return nil, l.fail(op, apperrors.New(apperrors.KindForbidden, "only the two parties or an admin can record a settlement"))
	}

	// Correctness-critical: fold the full history rather than trust the cache.
	balances, _, err := l.fold(ctx, g)
	if err != nil {
		return nil, l.fail(op, err)
	}
	maxAmount := balances.MaxSettlement(in.FromUserID, in.ToUserID, g.Currency)
	if in.Amount.Cmp(maxAmount) > 0 {
		return nil, l.fail(op, apperrors.New(apperrors.KindOverSettlement,
			"amount exceeds balance: %s owes %s at most %s", in.FromUserID, in.ToUserID, maxAmount))
	}

	e := &models.LedgerEntry{
		ID:          uuid.NewString(),
		GroupID:     g.ID,
		Kind:        models.EntrySettlement,
		Total:       in.Amount,
		PayerID:     in.FromUserID,
		Allocations: map[string]money.Money{in.ToUserID: in.Amount},
		Note:        in.Note,
		CreatedBy:   in.ActorID,
	}
	if err := l.appendEntry(ctx, g, e); err != nil {
		return nil, l.fail(op, err)
	}
	return e, nil
}

// ReverseEntry appends a compensating entry that cancels entryID's effect
// on every balance: same kind and payer with every amount negated. An entry
// can be reversed once, and reversals themselves cannot be reversed. The
// actor must be the entry's author or a group admin.
func (l *Ledger) ReverseEntry(ctx context.Context, groupID, actorID, entryID, note string) (*models.LedgerEntry, error) {
	const op = "ledger.ReverseEntry"

	unlock := l.locks.lock(groupID)
	defer unlock()

	g, err := l.activeGroup(ctx, groupID)
	if err != nil {
		return nil, l.fail(op, err)
	}
	actor, err := l.member(ctx, groupID, actorID)
	if err != nil {
		return nil, l.fail(op, err)
	}

	original, err := l.store.GetEntry(ctx, groupID, entryID)
	if err != nil {
		return nil, l.fail(op, notFound(err, "entry %s not found in group %s", entryID, groupID))
	}
	if original.IsReversal() {
		return nil, l.fail(op, invalid("entry %s is itself a reversal", entryID))
	}
	if original.CreatedBy != actorID && !actor.IsAdmin() {
		return nil, l.fail(op, apperrors.New(apperrors.KindForbidden, "only the author or an admin can reverse entry %s", entryID))
	}
	if _, err := l.store.FindReversal(ctx, entryID); err == nil {
		return nil, l.fail(op, invalid("entry %s is already reversed", entryID))
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, l.fail(op, err)
	}

	allocations := make(map[string]money.Money, len(original.Allocations))
	for userID, amount := range original.Allocations {
		allocations[userID] = amount.Neg()
	}
	e := &models.LedgerEntry{
		ID:              uuid.NewString(),
		GroupID:         groupID,
		Kind:            original.Kind,
		Total:           original.Total.Neg(),
		PayerID:         original.PayerID,
		Allocations:     allocations,
		Note:            note,
		ReversesEntryID: original.ID,
		CreatedBy:       actorID,
	}
	if err := l.appendEntry(ctx, g, e); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			err = invalid("entry %s is already reversed", entryID)
		}
		return nil, l.fail(op, err)
	}
	return e, nil
}

// appendEntry validates and persists e. The caller holds the group's write
// lock. Every user the entry touches must be a member and the allocations
// must sum to the total exactly.
func (l *Ledger) appendEntry(ctx context.Context, g *models.Group, e *models.LedgerEntry) error {
	if !e.Kind.Valid() {
		return invalid("unknown entry kind %q", e.Kind)
	}
	for _, userID := range e.Participants() {
		if _, err := l.member(ctx, g.ID, userID); err != nil {
			return err
		}
	}
	for userID, amount := range e.Allocations {
		if !amount.SameCurrency(e.Total) {
			return apperrors.New(apperrors.KindAmountMismatch, "allocation for %s is in %s, want %s", userID, amount.Currency, e.Total.Currency)
		}
	}
	sum, err := e.AllocationSum()
	if err != nil {
		return apperrors.New(apperrors.KindAmountMismatch, "allocations overflow: %v", err)
	}
	if !sum.Equal(e.Total) {
		return apperrors.New(apperrors.KindAmountMismatch, "allocations sum to %s, want %s", sum, e.Total)
	}

	e.CreatedAt = l.clock()
	if err := l.store.AppendEntry(ctx, e); err != nil {
		return err
	}

	l.metrics.EntryAppended(string(e.Kind))
	l.logger.Info("entry appended",
		"group_id", g.ID, "entry_id", e.ID, "seq", e.Seq, "kind", e.Kind,
		"total", e.Total.String(), "payer", e.PayerID, "actor", e.CreatedBy)
	return nil
}

func checkCurrency(g *models.Group, amount money.Money) error {
	if amount.Currency != g.Currency {
		return apperrors.New(apperrors.KindAmountMismatch, "amount is in %q, group %s uses %s", amount.Currency, g.ID, g.Currency)
	}
	return nil
}

// ListEntries returns a page of a group's ledger in insertion order.
func (l *Ledger) ListEntries(ctx context.Context, groupID string, page Page) (*EntryPage, error) {
	const op = "ledger.ListEntries"

	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	unlock := l.locks.rlock(groupID)
	defer unlock()

	if _, err := l.loadGroup(ctx, groupID); err != nil {
		return nil, l.fail(op, err)
	}
	// One extra row tells whether another page exists.
	entries, err := l.store.ListEntries(ctx, groupID, page.AfterSeq, limit+1)
	if err != nil {
		return nil, l.fail(op, err)
	}

	out := &EntryPage{Entries: entries}
	if len(entries) > limit {
		out.Entries = entries[:limit]
		out.NextAfterSeq = out.Entries[limit-1].Seq
	}
	return out, nil
}

// GetEntry returns one entry of a group.
func (l *Ledger) GetEntry(ctx context.Context, groupID, entryID string) (*models.LedgerEntry, error) {
	e, err := l.store.GetEntry(ctx, groupID, entryID)
	if err != nil {
		return nil, l.fail("ledger.GetEntry", notFound(err, "entry %s not found in group %s", entryID, groupID))
	}
	return e, nil
}
