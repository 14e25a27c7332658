package game

// BettingRound is the per-street betting state of a hand.
type BettingRound struct {
	Street Phase `json:"street"`
	// BetToCall is the highest street contribution any seat has made.
	BetToCall int `json:"betToCall"`
	// MinRaise is the smallest legal raise increment: the big blind, or the
	// size of the last full raise if larger.
	MinRaise      int `json:"minRaise"`
	LastAggressor int `json:"lastAggressor"`
	// Acted holds seats that have acted since the last full raise. Forced
	// posts do not count.
	Acted map[int]bool `json:"acted"`
	// Capped holds seats that acted before a short all-in and so may only
	// call or fold until a full raise reopens the betting.
	Capped map[int]bool `json:"capped,omitempty"`
}

// NewBettingRound opens a street with nothing bet.
func NewBettingRound(street Phase, bigBlind int) *BettingRound {
	return &BettingRound{
		Street:        street,
		MinRaise:      bigBlind,
		LastAggressor: -1,
		Acted:         make(map[int]bool),
		Capped:        make(map[int]bool),
	}
}

// recordContribution updates the round after seat's street contribution
// became bet. A raise of at least MinRaise reopens the betting for everyone;
// a smaller all-in raise only lifts the amount to call.
func (br *BettingRound) recordContribution(seat, bet int) {
	if bet > br.BetToCall {
		increment := bet - br.BetToCall
		if increment >= br.MinRaise {
			br.MinRaise = increment
			br.LastAggressor = seat
			clear(br.Acted)
			clear(br.Capped)
		} else {
			for s, acted := range br.Acted {
				if acted && s != seat {
					br.Capped[s] = true
				}
			}
		}
		br.BetToCall = bet
	}
	br.Acted[seat] = true
}

func (br *BettingRound) clone() *BettingRound {
	if br == nil {
		return nil
	}
	c := *br
	c.Acted = make(map[int]bool, len(br.Acted))
	for k, v := range br.Acted {
		c.Acted[k] = v
	}
	c.Capped = make(map[int]bool, len(br.Capped))
	for k, v := range br.Capped {
		c.Capped[k] = v
	}
	return &c
}
