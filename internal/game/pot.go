package game

import (
	"errors"
	"slices"

	"github.com/lox/holdemtable/poker"
)

// Contribution is one seat's total commitment to a hand.
type Contribution struct {
	Seat   int
	Amount int
	Folded bool
}

// Pot is a slice of the chips in a hand. The first pot returned by BuildPots
// is the main pot; later ones are side pots in ascending contribution order.
type Pot struct {
	Amount int `json:"amount"`
	// Cap is the contribution level this pot is filled up to.
	Cap      int   `json:"cap"`
	Eligible []int `json:"eligible"`
}

// TotalPots sums the amounts of pots.
func TotalPots(pots []Pot) int {
	total := 0
	for _, p := range pots {
		total += p.Amount
	}
	return total
}

// BuildPots partitions contributions into a main pot and side pots.
//
// Each distinct contribution level forms a slice worth (level - previous level)
// times the number of seats that reached it, winnable by the non-folded seats
// among them. Adjacent slices with identical eligibility are merged. A slice
// nobody may win, because every seat that reached it folded, is added to the
// pot below it. The amounts always sum to the total contributed.
func BuildPots(contribs []Contribution) []Pot {
	var levels []int
	for _, c := range contribs {
		if c.Amount > 0 && !slices.Contains(levels, c.Amount) {
			levels = append(levels, c.Amount)
		}
	}
	slices.Sort(levels)

	var pots []Pot
	carry := 0
	prev := 0
	for _, level := range levels {
		slice := Pot{Cap: level}
		for _, c := range contribs {
			if c.Amount < level {
				continue
			}
			slice.Amount += level - prev
			if !c.Folded {
				slice.Eligible = append(slice.Eligible, c.Seat)
			}
		}
		prev = level
		slices.Sort(slice.Eligible)

		switch {
		case len(slice.Eligible) == 0 && len(pots) > 0:
			pots[len(pots)-1].Amount += slice.Amount
		case len(slice.Eligible) == 0:
			carry += slice.Amount
		case len(pots) > 0 && slices.Equal(pots[len(pots)-1].Eligible, slice.Eligible):
			last := &pots[len(pots)-1]
			last.Amount += slice.Amount + carry
			last.Cap = level
			carry = 0
		default:
			slice.Amount += carry
			carry = 0
			pots = append(pots, slice)
		}
	}
	if carry > 0 {
		// Everyone folded; only reachable for inputs no live hand produces.
		pots = append(pots, Pot{Amount: carry, Cap: prev})
	}
	return pots
}

// Payout is the chips one seat receives from one pot.
type Payout struct {
	Seat   int `json:"seat"`
	Amount int `json:"amount"`
}

// PotResult records how one pot was awarded.
type PotResult struct {
	Pot      int      `json:"pot"`
	Amount   int      `json:"amount"`
	Eligible []int    `json:"eligible"`
	Winners  []int    `json:"winners"`
	Payouts  []Payout `json:"payouts"`
	Rank     string   `json:"rank,omitempty"`
}

// ErrUnwinnablePot is returned when a pot has no eligible seat with a ranking.
var ErrUnwinnablePot = errors.New("pot has no eligible winner")

// DistributePots awards each pot to the best-ranked eligible seats. Ties split
// the pot evenly; leftover chips go one at a time to the tied winners in
// order, which callers pass as seats clockwise from the first seat after the
// button. A pot with a single eligible seat goes to it without needing a rank.
func DistributePots(pots []Pot, ranks map[int]poker.HandRank, order []int) ([]PotResult, error) {
	position := make(map[int]int, len(order))
	for i, seat := range order {
		position[seat] = i
	}

	results := make([]PotResult, 0, len(pots))
	for i, pot := range pots {
		res := PotResult{Pot: i, Amount: pot.Amount, Eligible: slices.Clone(pot.Eligible)}

		if len(pot.Eligible) == 1 {
			res.Winners = []int{pot.Eligible[0]}
		} else {
			best := poker.WorstRank
			for _, seat := range pot.Eligible {
				rank, ok := ranks[seat]
				if !ok {
					continue
				}
				switch {
				case rank < best:
					best = rank
					res.Winners = []int{seat}
				case rank == best:
					res.Winners = append(res.Winners, seat)
				}
			}
			if len(res.Winners) > 0 {
				res.Rank = best.String()
			}
		}
		if len(res.Winners) == 0 {
			return nil, ErrUnwinnablePot
		}

		slices.SortFunc(res.Winners, func(a, b int) int {
			return position[a] - position[b]
		})
		share := pot.Amount / len(res.Winners)
		odd := pot.Amount % len(res.Winners)
		for j, seat := range res.Winners {
			amount := share
			if j < odd {
				amount++
			}
			res.Payouts = append(res.Payouts, Payout{Seat: seat, Amount: amount})
		}
		results = append(results, res)
	}
	return results, nil
}

// PayoutTotals folds pot results into total chips won per seat.
func PayoutTotals(results []PotResult) map[int]int {
	totals := make(map[int]int)
	for _, r := range results {
		for _, p := range r.Payouts {
			totals[p.Seat] += p.Amount
		}
	}
	return totals
}
