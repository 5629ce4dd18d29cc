package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzroom/internal/store"
)

// BuzzResult is the outcome of a buzz attempt. Losing the race is an
// expected outcome, never an error.
type BuzzResult int

const (
	// Won means this participant's conditional write created the
	// WinnerInfo record. This is the only authoritative success signal.
	Won BuzzResult = iota
	// AlreadyWon means another participant's buzz landed first.
	AlreadyWon
)

func (r BuzzResult) String() string {
	if r == Won {
		return "Won"
	}
	return "AlreadyWon"
}

// Arbiter resolves concurrent buzzes to exactly one winner using the
// store's compare-and-set primitive scoped to the room's winnerInfo
// path. N concurrent attempts against an empty winner slot reduce to N
// conditional writes with an absent-precondition, of which exactly one
// can succeed regardless of network delay or clock skew.
type Arbiter struct {
	store store.Store
	clock clockwork.Clock
}

// NewArbiter creates a buzz arbiter over the given store.
func NewArbiter(st store.Store, clock clockwork.Clock) *Arbiter {
	return &Arbiter{store: st, clock: clock}
}

// AttemptBuzz claims the current round for the given player. The initial
// read is a purely advisory fast rejection: it avoids needless write
// contention but carries no correctness weight, which rests solely on
// the conditional write. A lost race returns AlreadyWon and is never
// retried.
func (a *Arbiter) AttemptBuzz(ctx context.Context, code, playerID, playerName string) (BuzzResult, error) {
	if _, err := a.store.Get(ctx, winnerPath(code)); err == nil {
		return AlreadyWon, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return AlreadyWon, fmt.Errorf("read winner info: %w", err)
	}

	winner := WinnerInfo{
		PlayerID:   playerID,
		PlayerName: playerName,
		Timestamp:  a.clock.Now().UnixMilli(),
	}
	if remaining, ok := a.remainingAtBuzz(ctx, code); ok {
		winner.RemainingSec = &remaining
	}

	applied, err := a.store.CompareAndSet(ctx, winnerPath(code), nil, winner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AlreadyWon, ErrRoomNotFound
		}
		return AlreadyWon, fmt.Errorf("register buzz: %w", err)
	}
	if !applied {
		return AlreadyWon, nil
	}

	log.Debug().
		Str("room_code", code).
		Str("player_id", playerID).
		Msg("buzz won the round")
	return Won, nil
}

// remainingAtBuzz snapshots the countdown at the moment of the buzz, for
// display only. Failures are ignored; the snapshot is optional.
func (a *Arbiter) remainingAtBuzz(ctx context.Context, code string) (int, bool) {
	data, err := a.store.Get(ctx, timerPath(code))
	if err != nil {
		return 0, false
	}
	var timer GameTimer
	if err := json.Unmarshal(data, &timer); err != nil || !timer.IsActive {
		return 0, false
	}
	return int(timer.Remaining(a.clock.Now()).Seconds()), true
}
