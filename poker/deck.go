package poker

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
)

// ErrDeckExhausted is returned when more cards are requested than remain.
var ErrDeckExhausted = errors.New("deck exhausted")

// Deck is a standard 52-card deck consumed from the top.
type Deck struct {
	cards [52]Card
	next  int
	rng   *rand.Rand
}

// NewDeck creates a shuffled deck drawing randomness from rng.
func NewDeck(rng *rand.Rand) *Deck {
	d := &Deck{rng: rng}
	copy(d.cards[:], FullDeck())
	d.Shuffle()
	return d
}

// NewDeckWithOrder creates a deck whose top cards are exactly prefix, in order.
// The remaining cards are shuffled with rng beneath it.
func NewDeckWithOrder(prefix []Card, rng *rand.Rand) (*Deck, error) {
	if len(prefix) > 52 {
		return nil, fmt.Errorf("deck order has %d cards", len(prefix))
	}
	var seen Hand
	for _, c := range prefix {
		if !c.Valid() {
			return nil, fmt.Errorf("%w in deck order", ErrInvalidCard)
		}
		if seen.HasCard(c) {
			return nil, fmt.Errorf("duplicate card %s in deck order", c)
		}
		seen.AddCard(c)
	}

	d := &Deck{rng: rng}
	n := copy(d.cards[:], prefix)
	for _, c := range FullDeck() {
		if !seen.HasCard(c) {
			d.cards[n] = c
			n++
		}
	}
	d.shuffleFrom(len(prefix))
	return d, nil
}

// RestoreDeck rebuilds a partially dealt deck from its undealt cards, top first.
func RestoreDeck(remaining []Card, rng *rand.Rand) (*Deck, error) {
	if len(remaining) > 52 {
		return nil, fmt.Errorf("deck has %d cards", len(remaining))
	}
	var seen Hand
	for _, c := range remaining {
		if !c.Valid() || seen.HasCard(c) {
			return nil, fmt.Errorf("%w in restored deck", ErrInvalidCard)
		}
		seen.AddCard(c)
	}
	d := &Deck{rng: rng, next: 52 - len(remaining)}
	copy(d.cards[d.next:], remaining)
	return d, nil
}

// Shuffle resets the deck and shuffles all 52 cards using Fisher-Yates.
func (d *Deck) Shuffle() {
	d.next = 0
	d.shuffleFrom(0)
}

func (d *Deck) shuffleFrom(start int) {
	for i := len(d.cards) - 1; i > start; i-- {
		var j int
		if d.rng != nil {
			j = start + d.rng.IntN(i-start+1)
		} else {
			j = start + rand.IntN(i-start+1)
		}
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	}
}

// Deal removes n cards from the top of the deck.
func (d *Deck) Deal(n int) ([]Card, error) {
	if n < 0 || d.next+n > len(d.cards) {
		return nil, ErrDeckExhausted
	}
	cards := make([]Card, n)
	copy(cards, d.cards[d.next:d.next+n])
	d.next += n
	return cards, nil
}

// DealOne removes the top card.
func (d *Deck) DealOne() (Card, error) {
	if d.next >= len(d.cards) {
		return 0, ErrDeckExhausted
	}
	c := d.cards[d.next]
	d.next++
	return c, nil
}

// Burn discards the top card without exposing it.
func (d *Deck) Burn() error {
	_, err := d.DealOne()
	return err
}

// CardsRemaining returns the number of undealt cards.
func (d *Deck) CardsRemaining() int {
	return len(d.cards) - d.next
}

// Remaining returns a copy of the undealt cards, top first.
func (d *Deck) Remaining() []Card {
	out := make([]Card, d.CardsRemaining())
	copy(out, d.cards[d.next:])
	return out
}
