// Package poker models playing cards, decks and hand rankings for Texas Hold'em.
//
// Cards are single bits in a 64-bit mask, so a set of cards (a Hand) is just the
// bitwise OR of its members. Each suit owns a 16-bit lane with ranks in the low
// thirteen bits, which lets the evaluator work on per-suit rank masks directly.
package poker

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// Ranks, deuce through ace.
const (
	Two uint8 = iota
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

// Suits.
const (
	Clubs uint8 = iota
	Diamonds
	Hearts
	Spades
)

const (
	rankChars = "23456789TJQKA"
	suitChars = "cdhs"
)

// ErrInvalidCard is returned when a card string cannot be parsed.
var ErrInvalidCard = errors.New("invalid card")

// Card is a single playing card encoded as one set bit.
type Card uint64

// NewCard returns the card for rank (0-12) and suit (0-3).
func NewCard(rank, suit uint8) Card {
	return Card(1) << (uint(suit)*16 + uint(rank))
}

func (c Card) index() int {
	return bits.TrailingZeros64(uint64(c))
}

// Rank returns the card's rank, 0 (deuce) to 12 (ace).
func (c Card) Rank() uint8 {
	return uint8(c.index() % 16)
}

// Suit returns the card's suit, 0 (clubs) to 3 (spades).
func (c Card) Suit() uint8 {
	return uint8(c.index() / 16)
}

// Valid reports whether c is exactly one of the 52 cards.
func (c Card) Valid() bool {
	if bits.OnesCount64(uint64(c)) != 1 {
		return false
	}
	return c.Rank() <= Ace
}

func (c Card) String() string {
	if !c.Valid() {
		return "??"
	}
	return string([]byte{rankChars[c.Rank()], suitChars[c.Suit()]})
}

// MarshalText encodes the card as its two-character form, e.g. "As".
func (c Card) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidCard, uint64(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText parses the two-character form.
func (c *Card) UnmarshalText(text []byte) error {
	parsed, err := ParseCard(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCard parses strings like "As", "Td" or "2c".
func ParseCard(s string) (Card, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}
	rank := strings.IndexByte(rankChars, strings.ToUpper(s[:1])[0])
	suit := strings.IndexByte(suitChars, strings.ToLower(s[1:])[0])
	if rank < 0 || suit < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}
	return NewCard(uint8(rank), uint8(suit)), nil
}

// ParseCards parses a list of card strings.
func ParseCards(ss ...string) ([]Card, error) {
	cards := make([]Card, 0, len(ss))
	for _, s := range ss {
		c, err := ParseCard(s)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// MustParseCards is ParseCards for literals in tests and fixtures.
func MustParseCards(ss ...string) []Card {
	cards, err := ParseCards(ss...)
	if err != nil {
		panic(err)
	}
	return cards
}

// Hand is a set of cards.
type Hand uint64

// NewHand builds a set from the given cards.
func NewHand(cards ...Card) Hand {
	var h Hand
	for _, c := range cards {
		h |= Hand(c)
	}
	return h
}

// AddCard adds c to the set.
func (h *Hand) AddCard(c Card) {
	*h |= Hand(c)
}

// HasCard reports whether c is in the set.
func (h Hand) HasCard(c Card) bool {
	return h&Hand(c) != 0
}

// CountCards returns the number of cards in the set.
func (h Hand) CountCards() int {
	return bits.OnesCount64(uint64(h))
}

// GetSuitMask returns the thirteen-bit rank mask for one suit.
func (h Hand) GetSuitMask(suit uint8) uint16 {
	return uint16(uint64(h)>>(uint(suit)*16)) & 0x1FFF
}

// Cards lists the set in ascending bit order.
func (h Hand) Cards() []Card {
	cards := make([]Card, 0, h.CountCards())
	for m := uint64(h); m != 0; m &= m - 1 {
		cards = append(cards, Card(m&-m))
	}
	return cards
}

func (h Hand) String() string {
	cards := h.Cards()
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// FullDeck lists all 52 cards, clubs first, deuce to ace within a suit.
func FullDeck() []Card {
	cards := make([]Card, 0, 52)
	for suit := range uint8(4) {
		for rank := range uint8(13) {
			cards = append(cards, NewCard(rank, suit))
		}
	}
	return cards
}
