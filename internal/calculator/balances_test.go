package calculator

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
)

func expense(seq int64, payer string, total int64, participants ...string) *models.LedgerEntry {
	splits, err := Split(usd(total), Equal(), participants)
	if err != nil {
		panic(err)
	}
	return &models.LedgerEntry{
		ID:          fmt.Sprintf("e%d", seq),
		Seq:         seq,
		Kind:        models.EntryExpense,
		Total:       usd(total),
		PayerID:     payer,
		Allocations: splits,
	}
}

func settlement(seq int64, from, to string, amount int64) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:          fmt.Sprintf("s%d", seq),
		Seq:         seq,
		Kind:        models.EntrySettlement,
		Total:       usd(amount),
		PayerID:     from,
		Allocations: map[string]money.Money{to: usd(amount)},
	}
}

func TestFold(t *testing.T) {
	entries := []*models.LedgerEntry{
		expense(1, "alice", 9000, "alice", "bob", "carol"),
	}
	balances := Fold("USD", entries)

	want := map[string]int64{"alice": 6000, "bob": -3000, "carol": -3000}
	for userID, net := range want {
		if got := balances.Net(userID, "USD").MinorUnits; got != net {
			t.Errorf("%s net = %d, want %d", userID, got, net)
		}
	}
	alice := balances["alice"]
	if alice.TotalPaid.MinorUnits != 9000 || alice.TotalOwed.MinorUnits != 3000 {
		t.Errorf("alice paid/owed = %v/%v", alice.TotalPaid, alice.TotalOwed)
	}

	// Bob settles in full.
	entries = append(entries, settlement(2, "bob", "alice", 3000))
	balances = Fold("USD", entries)
	if got := balances.Net("bob", "USD").MinorUnits; got != 0 {
		t.Errorf("bob net after settlement = %d, want 0", got)
	}
	if got := balances.Net("alice", "USD").MinorUnits; got != 3000 {
		t.Errorf("alice net after settlement = %d, want 3000", got)
	}
	bob := balances["bob"]
	if bob.TotalPaid.MinorUnits != 0 {
		t.Errorf("settlements must not count as contributions, bob paid %v", bob.TotalPaid)
	}
	if bob.TotalCredited.MinorUnits != 3000 {
		t.Errorf("bob credited = %v, want 3000", bob.TotalCredited)
	}
	if got := balances.Sum("USD"); !got.IsZero() {
		t.Errorf("balances sum to %v, want 0", got)
	}
}

func TestMaxSettlement(t *testing.T) {
	balances := Fold("USD", []*models.LedgerEntry{
		expense(1, "alice", 9000, "alice", "bob", "carol"),
		expense(2, "bob", 1000, "bob", "carol"),
	})
	// alice +6000, bob -3000+500 = -2500, carol -3500.

	tests := []struct {
		from, to string
		want     int64
	}{
		{"bob", "alice", 2500},
		{"carol", "alice", 3500},
		{"alice", "bob", 0},
		{"carol", "bob", 0},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := balances.MaxSettlement(tt.from, tt.to, "USD").MinorUnits; got != tt.want {
				t.Errorf("MaxSettlement = %d, want %d", got, tt.want)
			}
		})
	}
}

func randomHistory(rng *rand.Rand, n int) []*models.LedgerEntry {
	users := []string{"ann", "ben", "cat", "dan", "eve"}
	entries := make([]*models.LedgerEntry, 0, n)
	for seq := int64(1); seq <= int64(n); seq++ {
		payer := users[rng.IntN(len(users))]
		if rng.IntN(4) == 0 {
			to := users[rng.IntN(len(users))]
			if to != payer {
				entries = append(entries, settlement(seq, payer, to, 1+rng.Int64N(5000)))
				continue
			}
		}
		k := 1 + rng.IntN(len(users))
		entries = append(entries, expense(seq, payer, 1+rng.Int64N(100000), users[:k]...))
	}
	return entries
}

func TestConservationAndRecomputability(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 50; run++ {
		entries := randomHistory(rng, 1+rng.IntN(80))

		first := Fold("USD", entries)
		second := Fold("USD", entries)
		if !first.Equal(second) {
			t.Fatalf("run %d: fold is not deterministic", run)
		}
		if sum := first.Sum("USD"); !sum.IsZero() {
			t.Fatalf("run %d: balances sum to %v", run, sum)
		}

		// Replaying from a checkpoint at an arbitrary position must match.
		cut := rng.IntN(len(entries) + 1)
		cp := NewCheckpoint("g", "USD").Advance(entries[:cut])
		if cut > 0 && cp.Seq != entries[cut-1].Seq {
			t.Fatalf("run %d: checkpoint seq = %d", run, cp.Seq)
		}
		replayed := cp.Advance(entries)
		if !replayed.Balances.Equal(first) {
			t.Fatalf("run %d: checkpoint replay diverged from full fold", run)
		}
		if replayed.Seq != entries[len(entries)-1].Seq {
			t.Fatalf("run %d: replayed seq = %d", run, replayed.Seq)
		}
	}
}

func TestAdvanceDoesNotMutateReceiver(t *testing.T) {
	base := NewCheckpoint("g", "USD").Advance([]*models.LedgerEntry{
		expense(1, "alice", 1000, "alice", "bob"),
	})
	_ = base.Advance([]*models.LedgerEntry{expense(2, "bob", 500, "alice", "bob")})

	if base.Seq != 1 {
		t.Errorf("base seq = %d, want 1", base.Seq)
	}
	if got := base.Balances.Net("alice", "USD").MinorUnits; got != 500 {
		t.Errorf("base alice net = %d, want 500", got)
	}
}

func TestSimplifyDebts(t *testing.T) {
	balances := Fold("USD", []*models.LedgerEntry{
		expense(1, "alice", 9000, "alice", "bob", "carol"),
		expense(2, "bob", 3000, "alice", "bob", "carol"),
	})
	// alice +6000-1000 = 5000, bob -3000+2000 = -1000, carol -4000.

	edges := SimplifyDebts(balances, "USD")
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d: %v", len(edges), edges)
	}
	if edges[0].From != "carol" || edges[0].To != "alice" || edges[0].Amount.MinorUnits != 4000 {
		t.Errorf("edge 0 = %+v", edges[0])
	}
	if edges[1].From != "bob" || edges[1].To != "alice" || edges[1].Amount.MinorUnits != 1000 {
		t.Errorf("edge 1 = %+v", edges[1])
	}

	// Applying the suggested settlements clears every balance.
	after := Fold("USD", []*models.LedgerEntry{
		expense(1, "alice", 9000, "alice", "bob", "carol"),
		expense(2, "bob", 3000, "alice", "bob", "carol"),
		settlement(3, "carol", "alice", 4000),
		settlement(4, "bob", "alice", 1000),
	})
	for userID, bal := range after {
		if !bal.Net.IsZero() {
			t.Errorf("%s still has net %v", userID, bal.Net)
		}
	}
}
