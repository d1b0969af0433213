package calculator

import (
	"sort"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
)

// Balance is one member's derived position within a group.
type Balance struct {
	UserID string `json:"userId"`

	// TotalPaid is what the member contributed through expenses and deposits.
	TotalPaid money.Money `json:"totalPaid"`

	// TotalCredited is every credit: TotalPaid plus settlements paid out.
	TotalCredited money.Money `json:"totalCredited"`

	// TotalOwed is every debit: allocations plus settlements received.
	TotalOwed money.Money `json:"totalOwed"`

	// Net is TotalCredited - TotalOwed. Positive = owed money, Negative = owes money.
	Net money.Money `json:"net"`
}

// Balances maps user ID to balance.
type Balances map[string]Balance

// DebtEdge represents a debt from one person to another.
type DebtEdge struct {
	From   string      `json:"from"` // Person who owes
	To     string      `json:"to"`   // Person who is owed
	Amount money.Money `json:"amount"`
}

// Checkpoint is a balance projection as of a ledger position. It is always
// derivable by replaying the group's entries up to Seq.
type Checkpoint struct {
	GroupID  string
	Currency string
	Seq      int64
	Balances Balances
}

// Fold computes balances from entries in insertion order.
//
// Algorithm:
//   - payer is credited the entry total (TotalPaid too, unless a settlement)
//   - each allocation key is debited its allocation
//   - net = credited - owed
func Fold(currency string, entries []*models.LedgerEntry) Balances {
	balances := make(Balances)
	for _, e := range entries {
		apply(balances, currency, e)
	}
	return balances
}

// NewCheckpoint returns an empty projection for a group.
func NewCheckpoint(groupID, currency string) Checkpoint {
	return Checkpoint{GroupID: groupID, Currency: currency, Balances: make(Balances)}
}

// Advance returns a new checkpoint with entries beyond c.Seq applied.
// Entries at or below c.Seq are skipped, so replaying an overlapping range
// is harmless. The receiver is not modified.
func (c Checkpoint) Advance(entries []*models.LedgerEntry) Checkpoint {
	next := Checkpoint{
		GroupID:  c.GroupID,
		Currency: c.Currency,
		Seq:      c.Seq,
		Balances: c.Balances.Clone(),
	}
	for _, e := range entries {
		if e.Seq <= next.Seq {
			continue
		}
		apply(next.Balances, c.Currency, e)
		next.Seq = e.Seq
	}
	return next
}

func apply(balances Balances, currency string, e *models.LedgerEntry) {
	payer := balances.get(e.PayerID, currency)
	payer.TotalCredited = payer.TotalCredited.Add(e.Total)
	if e.Kind != models.EntrySettlement {
		payer.TotalPaid = payer.TotalPaid.Add(e.Total)
	}
	payer.Net = payer.TotalCredited.Sub(payer.TotalOwed)
	balances[e.PayerID] = payer

	for userID, share := range e.Allocations {
		b := balances.get(userID, currency)
		b.TotalOwed = b.TotalOwed.Add(share)
		b.Net = b.TotalCredited.Sub(b.TotalOwed)
		balances[userID] = b
	}
}

func (b Balances) get(userID, currency string) Balance {
	if bal, ok := b[userID]; ok {
		return bal
	}
	zero := money.Zero(currency)
	return Balance{UserID: userID, TotalPaid: zero, TotalCredited: zero, TotalOwed: zero, Net: zero}
}

// Ensure adds zero balances for members with no entries yet.
func (b Balances) Ensure(currency string, userIDs ...string) {
	for _, id := range userIDs {
		b[id] = b.get(id, currency)
	}
}

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Net returns a member's net balance, zero if unknown.
func (b Balances) Net(userID, currency string) money.Money {
	return b.get(userID, currency).Net
}

// Sum returns the sum of all net balances. It is zero for any entry history.
func (b Balances) Sum(currency string) money.Money {
	sum := money.Zero(currency)
	for _, bal := range b {
		sum = sum.Add(bal.Net)
	}
	return sum
}

// Equal reports whether two projections hold identical balances.
func (b Balances) Equal(other Balances) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		o, ok := other[k]
		if !ok || v != o {
			return false
		}
	}
	return true
}

// Sorted returns balances ordered by user ID.
func (b Balances) Sorted() []Balance {
	out := make([]Balance, 0, len(b))
	for _, bal := range b {
		out = append(out, bal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// MaxSettlement is the most from can pay to without either party's net
// crossing zero: min(-net(from), net(to)), or zero if from owes nothing or
// to is owed nothing.
func (b Balances) MaxSettlement(from, to, currency string) money.Money {
	owes := b.Net(from, currency).Neg()
	owed := b.Net(to, currency)
	if !owes.IsPositive() || !owed.IsPositive() {
		return money.Zero(currency)
	}
	if owes.Cmp(owed) < 0 {
		return owes
	}
	return owed
}

// SimplifyDebts matches debtors with creditors to minimize transactions.
// Largest debts are matched with largest credits first; ties are broken by
// user ID so the result is deterministic.
func SimplifyDebts(balances Balances, currency string) []DebtEdge {
	type party struct {
		userID string
		amount int64
	}
	var creditors, debtors []party
	for _, bal := range balances {
		switch {
		case bal.Net.IsPositive():
			creditors = append(creditors, party{bal.UserID, bal.Net.MinorUnits})
		case bal.Net.IsNegative():
			debtors = append(debtors, party{bal.UserID, -bal.Net.MinorUnits})
		}
	}
	byAmount := func(ps []party) func(i, j int) bool {
		return func(i, j int) bool {
			if ps[i].amount != ps[j].amount {
				return ps[i].amount > ps[j].amount
			}
			return ps[i].userID < ps[j].userID
		}
	}
	sort.Slice(creditors, byAmount(creditors))
	sort.Slice(debtors, byAmount(debtors))

	var edges []DebtEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := min(debtors[i].amount, creditors[j].amount)
		edges = append(edges, DebtEdge{
			From:   debtors[i].userID,
			To:     creditors[j].userID,
			Amount: money.New(amount, currency),
		})
		debtors[i].amount -= amount
		creditors[j].amount -= amount
		if debtors[i].amount == 0 {
			i++
		}
		if creditors[j].amount == 0 {
			j++
		}
	}
	return edges
}
