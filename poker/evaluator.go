package poker

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// HandRank is the strength of a five-card hand. Lower values are stronger and
// equal values tie, so HandRank alone gives a total order over all hands.
type HandRank uint16

// HandType enumerates the categories of poker hands from weakest to strongest.
type HandType uint8

const (
	HighCard HandType = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
)

var handTypeNames = [...]string{
	HighCard:      "High Card",
	Pair:          "Pair",
	TwoPair:       "Two Pair",
	ThreeOfAKind:  "Three of a Kind",
	Straight:      "Straight",
	Flush:         "Flush",
	FullHouse:     "Full House",
	FourOfAKind:   "Four of a Kind",
	StraightFlush: "Straight Flush",
}

func (t HandType) String() string {
	if int(t) < len(handTypeNames) {
		return handTypeNames[t]
	}
	return "Unknown"
}

// Distinct hand classes per category, strongest category first.
const (
	straightFlushCount = 10
	fourOfAKindCount   = 13 * 12
	fullHouseCount     = 13 * 12
	flushCount         = 1287 - 10
	straightCount      = 10
	threeOfAKindCount  = 13 * 66
	twoPairCount       = 78 * 11
	onePairCount       = 13 * 220
	highCardCount      = 1287 - 10
)

const (
	baseStraightFlush = 0
	baseFourOfAKind   = baseStraightFlush + straightFlushCount
	baseFullHouse     = baseFourOfAKind + fourOfAKindCount
	baseFlush         = baseFullHouse + fullHouseCount
	baseStraight      = baseFlush + flushCount
	baseThreeOfAKind  = baseStraight + straightCount
	baseTwoPair       = baseThreeOfAKind + threeOfAKindCount
	baseOnePair       = baseTwoPair + twoPairCount
	baseHighCard      = baseOnePair + onePairCount

	// WorstRank is one past the weakest possible hand.
	WorstRank = HandRank(baseHighCard + highCardCount)
)

var categoryBases = [...]struct {
	base uint16
	typ  HandType
}{
	{baseHighCard, HighCard},
	{baseOnePair, Pair},
	{baseTwoPair, TwoPair},
	{baseThreeOfAKind, ThreeOfAKind},
	{baseStraight, Straight},
	{baseFlush, Flush},
	{baseFullHouse, FullHouse},
	{baseFourOfAKind, FourOfAKind},
	{baseStraightFlush, StraightFlush},
}

// Type returns the hand category.
func (hr HandRank) Type() HandType {
	for _, c := range categoryBases {
		if uint16(hr) >= c.base {
			return c.typ
		}
	}
	return StraightFlush
}

func (hr HandRank) String() string {
	return hr.Type().String()
}

// CompareHands returns 1 if a is stronger, -1 if b is stronger and 0 on a tie.
func CompareHands(a, b HandRank) int {
	switch {
	case a < b:
		return 1
	case a > b:
		return -1
	}
	return 0
}

// ErrCardCount is returned when Evaluate is given fewer than 5 or more than 7 cards.
var ErrCardCount = errors.New("hand evaluation needs 5 to 7 distinct cards")

// Ranking is the evaluated result for one player: the rank value plus the exact
// five cards that make it.
type Ranking struct {
	Rank HandRank
	Best [5]Card
}

// Category returns the hand category of the best five cards.
func (r Ranking) Category() HandType {
	return r.Rank.Type()
}

// Compare returns 1 if r beats o, -1 if o beats r and 0 when they tie.
func (r Ranking) Compare(o Ranking) int {
	return CompareHands(r.Rank, o.Rank)
}

func (r Ranking) String() string {
	parts := make([]string, len(r.Best))
	for i, c := range r.Best {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s (%s)", r.Category(), strings.Join(parts, " "))
}

// Evaluate ranks the best five-card hand from 5 to 7 cards, typically two hole
// cards plus the board. It tries every five-card subset and reports the
// strongest one; ties between subsets resolve to the first in enumeration order.
func Evaluate(cards ...Card) (Ranking, error) {
	h := NewHand(cards...)
	if len(cards) < 5 || len(cards) > 7 || h.CountCards() != len(cards) {
		return Ranking{}, ErrCardCount
	}
	for _, c := range cards {
		if !c.Valid() {
			return Ranking{}, fmt.Errorf("%w: %#x", ErrInvalidCard, uint64(c))
		}
	}

	sorted := h.Cards()
	best := Ranking{Rank: WorstRank}
	n := len(sorted)
	var subset [5]Card
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			for c := b + 1; c < n; c++ {
				for d := c + 1; d < n; d++ {
					for e := d + 1; e < n; e++ {
						subset = [5]Card{sorted[a], sorted[b], sorted[c], sorted[d], sorted[e]}
						rank := EvaluateHand(NewHand(subset[:]...))
						if rank < best.Rank {
							best.Rank = rank
							best.Best = subset
						}
					}
				}
			}
		}
	}
	orderBest(&best)
	return best, nil
}

// EvaluateHand ranks a set of 5 to 7 cards without reporting which five play.
// It works on per-suit rank masks and is the fast path for bulk comparisons.
func EvaluateHand(h Hand) HandRank {
	var suitMasks [4]uint16
	var rankMask uint16
	for suit := range uint8(4) {
		suitMasks[suit] = h.GetSuitMask(suit)
		rankMask |= suitMasks[suit]
	}
	return rankFromMasks(suitMasks, rankMask)
}

func rankFromMasks(suitMasks [4]uint16, rankMask uint16) HandRank {
	// With at most seven cards a flush excludes quads and full houses, so the
	// flush check can return early.
	for _, suitMask := range suitMasks {
		if bits.OnesCount16(suitMask) < 5 {
			continue
		}
		if high, ok := straightHigh(suitMask); ok {
			return HandRank(baseStraightFlush + straightCount - 1 - straightIndex(high))
		}
		top := topRanks(suitMask, 0, 5)
		return HandRank(baseFlush + flushCount - 1 - nonStraightIndex(top))
	}

	s0, s1, s2, s3 := suitMasks[0], suitMasks[1], suitMasks[2], suitMasks[3]
	quads := s0 & s1 & s2 & s3
	atLeastThree := (s0 & s1 & s2) | (s0 & s1 & s3) | (s0 & s2 & s3) | (s1 & s2 & s3)
	trips := atLeastThree &^ quads
	pairs := ((s0 & s1) | (s0 & s2) | (s0 & s3) | (s1 & s2) | (s1 & s3) | (s2 & s3)) &^ atLeastThree

	if quads != 0 {
		q := highBit(quads)
		k := highBit(rankMask &^ (1 << q))
		idx := uint16(q)*12 + uint16(ordinal(k, 1<<q))
		return HandRank(baseFourOfAKind + fourOfAKindCount - 1 - idx)
	}

	if trips != 0 {
		t := highBit(trips)
		if rest := pairs | (trips &^ (1 << t)); rest != 0 {
			p := highBit(rest)
			idx := uint16(t)*12 + uint16(ordinal(p, 1<<t))
			return HandRank(baseFullHouse + fullHouseCount - 1 - idx)
		}
	}

	if high, ok := straightHigh(rankMask); ok {
		return HandRank(baseStraight + straightCount - 1 - straightIndex(high))
	}

	if trips != 0 {
		t := highBit(trips)
		used := uint16(1) << t
		idx := uint16(t)*66 + colexIndex(ordinalMask(topRanks(rankMask, used, 2), used))
		return HandRank(baseThreeOfAKind + threeOfAKindCount - 1 - idx)
	}

	if pairs != 0 {
		hi := highBit(pairs)
		if rest := pairs &^ (1 << hi); rest != 0 {
			lo := highBit(rest)
			used := uint16(1)<<hi | uint16(1)<<lo
			k := highBit(rankMask &^ used)
			idx := colexIndex(used)*11 + uint16(ordinal(k, used))
			return HandRank(baseTwoPair + twoPairCount - 1 - idx)
		}
		used := uint16(1) << hi
		idx := uint16(hi)*220 + colexIndex(ordinalMask(topRanks(rankMask, used, 3), used))
		return HandRank(baseOnePair + onePairCount - 1 - idx)
	}

	top := topRanks(rankMask, 0, 5)
	return HandRank(baseHighCard + highCardCount - 1 - nonStraightIndex(top))
}

func highBit(mask uint16) uint8 {
	return uint8(bits.Len16(mask) - 1)
}

// topRanks keeps the n highest ranks of mask that are not in used.
func topRanks(mask, used uint16, n int) uint16 {
	available := mask &^ used
	var out uint16
	for range n {
		if available == 0 {
			break
		}
		top := uint16(1) << highBit(available)
		out |= top
		available &^= top
	}
	return out
}

// ordinal is rank's position among the ranks not in excluded.
func ordinal(rank uint8, excluded uint16) uint8 {
	below := excluded & (uint16(1)<<rank - 1)
	return rank - uint8(bits.OnesCount16(below))
}

// ordinalMask re-indexes ranks as ordinals with the excluded ranks removed.
func ordinalMask(ranks, excluded uint16) uint16 {
	var out uint16
	for m := ranks; m != 0; m &= m - 1 {
		out |= 1 << ordinal(uint8(bits.TrailingZeros16(m)), excluded)
	}
	return out
}

var binomial = func() [14][6]uint16 {
	var c [14][6]uint16
	for n := range 14 {
		c[n][0] = 1
		for k := 1; k < 6 && k <= n; k++ {
			c[n][k] = c[n-1][k-1]
			if k < n {
				c[n][k] += c[n-1][k]
			}
		}
	}
	return c
}()

// colexIndex ranks a set of bits in colexicographic order, which compares the
// highest member first and therefore matches kicker order.
func colexIndex(mask uint16) uint16 {
	var idx uint16
	k := 1
	for m := mask; m != 0; m &= m - 1 {
		idx += binomial[bits.TrailingZeros16(m)][k]
		k++
	}
	return idx
}

var straightMasks = func() [10]uint16 {
	var masks [10]uint16
	masks[0] = 0x100F
	for high := 4; high <= 12; high++ {
		masks[high-3] = uint16(0x1F) << (high - 4)
	}
	return masks
}()

// nonStraightIndex is colexIndex with the ten straight patterns skipped, used
// for flushes and high-card hands.
func nonStraightIndex(mask uint16) uint16 {
	idx := colexIndex(mask)
	var skipped uint16
	for _, s := range straightMasks {
		if colexIndex(s) < idx {
			skipped++
		}
	}
	return idx - skipped
}

// straightHigh returns the high card of the best straight in mask. The wheel
// (A-2-3-4-5) reports a five-high straight.
func straightHigh(mask uint16) (uint8, bool) {
	mask &= 0x1FFF
	if run := mask & (mask >> 1) & (mask >> 2) & (mask >> 3) & (mask >> 4); run != 0 {
		return highBit(run) + 4, true
	}
	if mask&straightMasks[0] == straightMasks[0] {
		return Five, true
	}
	return 0, false
}

func straightIndex(high uint8) uint16 {
	return uint16(high - Five)
}

// orderBest arranges the winning five by significance: larger rank groups
// first, then higher ranks, with the ace played low in a wheel.
func orderBest(r *Ranking) {
	var counts [13]int
	for _, c := range r.Best {
		counts[c.Rank()]++
	}
	wheel := false
	if t := r.Category(); t == Straight || t == StraightFlush {
		wheel = counts[Ace] == 1 && counts[Five] == 1 && counts[Six] == 0
	}
	value := func(c Card) int {
		if wheel && c.Rank() == Ace {
			return -1
		}
		return int(c.Rank())
	}
	sort.SliceStable(r.Best[:], func(i, j int) bool {
		ci, cj := r.Best[i], r.Best[j]
		if counts[ci.Rank()] != counts[cj.Rank()] {
			return counts[ci.Rank()] > counts[cj.Rank()]
		}
		if value(ci) != value(cj) {
			return value(ci) > value(cj)
		}
		return ci.Suit() > cj.Suit()
	})
}
