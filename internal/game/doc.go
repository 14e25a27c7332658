// Package game implements the authoritative rules engine for one Texas Hold'em table.
//
// A Table owns its seats, chip stacks and blind schedule, and drives at most one
// Hand at a time. A Hand moves through a closed set of phases (see Phase) and
// delegates per-street bookkeeping to a BettingRound. Pot partitioning and
// payouts are pure functions over per-seat contributions (BuildPots and
// DistributePots).
//
// Nothing in this package is safe for concurrent use. Callers serialize all
// mutations of a Table (the engine package runs one goroutine per table) and
// share read-only state through immutable Snapshots.
//
// # Basic Usage
//
//	schedule := game.NewCashSchedule(game.BlindLevel{SmallBlind: 1, BigBlind: 2}, clock)
//	t, _ := game.NewTable("t1", game.TableConfig{Seats: 6, MinBuyIn: 40, MaxBuyIn: 200}, schedule)
//	_ = t.TakeSeat("alice", 0, 100)
//	_ = t.TakeSeat("bob", 1, 100)
//	_ = t.StartHand()
//	_ = t.Act("alice", game.Call, 0)
//
// # Deterministic Testing
//
// Inject the next hand's card order with InjectDeck, or build the table with
// WithRNG and a fixed seed from internal/randutil.
package game
