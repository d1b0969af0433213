package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/apperrors"
	"github.com/mmynk/splitledger/internal/money"
)

// TotalBasisPoints is 100% expressed in basis points.
const TotalBasisPoints = 10000

// SplitKind selects how a total is allocated among participants.
type SplitKind string

const (
	SplitEqual      SplitKind = "equal"
	SplitPercentage SplitKind = "percentage"
	SplitCustom     SplitKind = "custom"
	SplitItemized   SplitKind = "itemized"
)

// Item represents a single line item on a bill. The item amount is divided
// equally among AssignedTo.
type Item struct {
	Description string
	Amount      int64 // minor units
	AssignedTo  []string
}

// SplitPolicy describes an allocation rule. Only the field matching Kind is read.
type SplitPolicy struct {
	Kind SplitKind

	// BasisPoints is used by SplitPercentage; values must sum to 10000.
	BasisPoints map[string]int64

	// Amounts is used by SplitCustom; values must sum to the total.
	Amounts map[string]money.Money

	// Items is used by SplitItemized. The difference between the total and
	// the item subtotal (tax, tip, fees) is spread proportionally.
	Items []Item
}

// Equal returns an equal-split policy.
func Equal() SplitPolicy { return SplitPolicy{Kind: SplitEqual} }

// Percentage returns a basis-point policy.
func Percentage(bp map[string]int64) SplitPolicy {
	return SplitPolicy{Kind: SplitPercentage, BasisPoints: bp}
}

// Custom returns a policy with caller-supplied exact amounts.
func Custom(amounts map[string]money.Money) SplitPolicy {
	return SplitPolicy{Kind: SplitCustom, Amounts: amounts}
}

// Itemized returns a policy that allocates by line items.
func Itemized(items []Item) SplitPolicy {
	return SplitPolicy{Kind: SplitItemized, Items: items}
}

// Split allocates total among participants according to policy.
// The returned allocations always sum to total exactly.
func Split(total money.Money, policy SplitPolicy, participants []string) (map[string]money.Money, error) {
	if !total.IsPositive() {
		return nil, apperrors.New(apperrors.KindInvalidSplit, "total must be positive, got %s", total)
	}
	if total.MinorUnits > money.MaxMinorUnits {
		return nil, apperrors.New(apperrors.KindInvalidSplit, "total %s exceeds the largest allowed amount", total)
	}
	sorted, err := sortedParticipants(participants)
	if err != nil {
		return nil, err
	}

	if len(sorted) == 1 {
		return map[string]money.Money{sorted[0]: total}, nil
	}

	var units map[string]int64
	switch policy.Kind {
	case SplitEqual, "":
		units = splitEqual(total.MinorUnits, sorted)
	case SplitPercentage:
		units, err = splitPercentage(total.MinorUnits, policy.BasisPoints, sorted)
	case SplitCustom:
		return splitCustom(total, policy.Amounts, sorted)
	case SplitItemized:
		units, err = splitItemized(total.MinorUnits, policy.Items, sorted)
	default:
		return nil, apperrors.New(apperrors.KindInvalidSplit, "unknown split policy %q", policy.Kind)
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]money.Money, len(units))
	for userID, u := range units {
		out[userID] = money.New(u, total.Currency)
	}
	return out, nil
}

func sortedParticipants(participants []string) ([]string, error) {
	if len(participants) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidSplit, "must have at least one participant")
	}
	seen := make(map[string]bool, len(participants))
	sorted := make([]string, 0, len(participants))
	for _, p := range participants {
		if p == "" {
			return nil, apperrors.New(apperrors.KindInvalidSplit, "participant id cannot be empty")
		}
		if seen[p] {
			return nil, apperrors.New(apperrors.KindInvalidSplit, "duplicate participant %q", p)
		}
		seen[p] = true
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)
	return sorted, nil
}

// splitEqual divides total among sorted participants, handing the remainder
// out one unit at a time in order.
func splitEqual(total int64, sorted []string) map[string]int64 {
	n := int64(len(sorted))
	share, remainder := total/n, total%n
	out := make(map[string]int64, len(sorted))
	for i, p := range sorted {
		out[p] = share
		if int64(i) < remainder {
			out[p]++
		}
	}
	return out
}

func splitPercentage(total int64, bp map[string]int64, sorted []string) (map[string]int64, error) {
	inSet := make(map[string]bool, len(sorted))
	for _, p := range sorted {
		inSet[p] = true
	}
	var sum int64
	for userID, points := range bp {
		if !inSet[userID] {
			return nil, apperrors.New(apperrors.KindInvalidSplit, "basis points given for non-participant %q", userID)
		}
		if points < 0 || points > TotalBasisPoints {
			return nil, apperrors.New(apperrors.KindInvalidSplit, "basis points for %q must be between 0 and %d, got %d", userID, TotalBasisPoints, points)
		}
		sum += points
	}
	if sum != TotalBasisPoints {
		return nil, apperrors.New(apperrors.KindInvalidSplit, "basis points sum to %d, want %d", sum, TotalBasisPoints)
	}

	dTotal := decimal.NewFromInt(total)
	denom := decimal.NewFromInt(TotalBasisPoints)
	out := make(map[string]int64, len(sorted))
	var allocated int64
	largest := ""
	for _, p := range sorted {
		share := dTotal.Mul(decimal.NewFromInt(bp[p])).Div(denom).Round(0).IntPart()
		out[p] = share
		allocated += share
		if largest == "" || share > out[largest] {
			largest = p
		}
	}
	residual := total - allocated
	if residual >= 0 || out[largest]+residual >= 0 {
		out[largest] += residual
		return out, nil
	}

	// Rounding up overshot by more than the largest share holds; take the
	// excess back one unit at a time, largest shares first.
	order := append([]string(nil), sorted...)
	sort.SliceStable(order, func(i, j int) bool { return out[order[i]] > out[order[j]] })
	for i := 0; residual < 0; i = (i + 1) % len(order) {
		if out[order[i]] > 0 {
			out[order[i]]--
			residual++
		}
	}
	return out, nil
}

func splitCustom(total money.Money, amounts map[string]money.Money, sorted []string) (map[string]money.Money, error) {
	inSet := make(map[string]bool, len(sorted))
	for _, p := range sorted {
		inSet[p] = true
	}
	var sum int64
	out := make(map[string]money.Money, len(amounts))
	for userID, amt := range amounts {
		if !inSet[userID] {
			return nil, apperrors.New(apperrors.KindSplitMismatch, "amount given for non-participant %q", userID)
		}
		if !amt.SameCurrency(total) {
			return nil, apperrors.New(apperrors.KindSplitMismatch, "amount for %q is in %s, want %s", userID, amt.Currency, total.Currency)
		}
		if amt.IsNegative() {
			return nil, apperrors.New(apperrors.KindSplitMismatch, "negative amount for %q", userID)
		}
		// sum never exceeds the total, so the subtraction cannot overflow.
		if amt.MinorUnits > total.MinorUnits-sum {
			return nil, apperrors.New(apperrors.KindSplitMismatch,
				"individual amounts exceed total amount %s", total)
		}
		sum += amt.MinorUnits
		out[userID] = amt
	}
	if sum != total.MinorUnits {
		return nil, apperrors.New(apperrors.KindSplitMismatch,
			"individual amounts must sum to total amount: got %s, want %s",
			money.New(sum, total.Currency), total)
	}
	return out, nil
}

// splitItemized computes each person's item subtotal, then spreads the
// remaining surcharge proportionally: person_total = subtotal × total / bill_subtotal.
func splitItemized(total int64, items []Item, sorted []string) (map[string]int64, error) {
	if len(items) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidSplit, "itemized split needs at least one item")
	}
	inSet := make(map[string]bool, len(sorted))
	for _, p := range sorted {
		inSet[p] = true
	}

	subtotals := make(map[string]int64, len(sorted))
	var billSubtotal int64
	for _, item := range items {
		if item.Amount <= 0 {
			return nil, apperrors.New(apperrors.KindInvalidSplit, "item %q must have a positive amount", item.Description)
		}
		if item.Amount > total-billSubtotal {
			return nil, apperrors.New(apperrors.KindSplitMismatch, "item subtotal exceeds total %d", total)
		}
		if len(item.AssignedTo) == 0 {
			return nil, apperrors.New(apperrors.KindInvalidSplit, "item %q is not assigned to anyone", item.Description)
		}
		assignees, err := sortedParticipants(item.AssignedTo)
		if err != nil {
			return nil, err
		}
		for _, a := range assignees {
			if !inSet[a] {
				return nil, apperrors.New(apperrors.KindInvalidSplit, "item %q assigned to non-participant %q", item.Description, a)
			}
		}
		for userID, share := range splitEqual(item.Amount, assignees) {
			subtotals[userID] += share
		}
		billSubtotal += item.Amount
	}

	surcharge := total - billSubtotal
	out := make(map[string]int64, len(sorted))
	for _, p := range sorted {
		out[p] = subtotals[p]
	}
	if surcharge == 0 {
		return out, nil
	}

	// Largest remainder: floor each proportional share, then hand leftover
	// units to the largest remainders, ties by participant id. All shares
	// have the same denominator so remainders compare directly.
	type frac struct {
		userID    string
		remainder int64
	}
	dSurcharge := decimal.NewFromInt(surcharge)
	dSubtotal := decimal.NewFromInt(billSubtotal)
	fracs := make([]frac, 0, len(sorted))
	var distributed int64
	for _, p := range sorted {
		q, r := dSurcharge.Mul(decimal.NewFromInt(subtotals[p])).QuoRem(dSubtotal, 0)
		out[p] += q.IntPart()
		distributed += q.IntPart()
		fracs = append(fracs, frac{userID: p, remainder: r.IntPart()})
	}
	sort.SliceStable(fracs, func(i, j int) bool {
		return fracs[i].remainder > fracs[j].remainder
	})
	// Flooring loses less than one unit per participant.
	for i := 0; i < len(fracs) && int64(i) < surcharge-distributed; i++ {
		out[fracs[i].userID]++
	}
	return out, nil
}
