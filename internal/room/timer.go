package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimerState is the local view of the shared countdown.
type TimerState int

const (
	// TimerIdle means no countdown is active.
	TimerIdle TimerState = iota
	// TimerRunning means a countdown is active and the local
	// recomputation loop is ticking.
	TimerRunning
	// TimerExpired means the local loop observed the countdown reach
	// zero. The shared state may still carry the timer until the host's
	// authoritative clear lands.
	TimerExpired
)

func (s TimerState) String() string {
	switch s {
	case TimerRunning:
		return "Running"
	case TimerExpired:
		return "Expired"
	default:
		return "Idle"
	}
}

// DefaultTickInterval is how often the local recomputation loop refreshes
// the derived remaining time.
const DefaultTickInterval = 100 * time.Millisecond

// TimerSync derives a locally ticking countdown from the two
// authoritative replicated fields, the absolute start instant and the
// total duration. Every participant recomputes remaining time from its
// own clock, so displays agree across participants up to each device's
// clock accuracy, and expiry is detected independently everywhere. A
// stored "remaining" value is never trusted across participants.
type TimerSync struct {
	clock    clockwork.Clock
	interval time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	mu      sync.Mutex
	state   TimerState
	current *GameTimer
	cancel  chan struct{}
}

// NewTimerSync creates a synchronizer. onTick and onExpire may be nil;
// onExpire fires exactly once per observed countdown.
func NewTimerSync(clock clockwork.Clock, onTick func(time.Duration), onExpire func()) *TimerSync {
	return &TimerSync{
		clock:    clock,
		interval: DefaultTickInterval,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Observe feeds the synchronizer the timer field of each arriving room
// snapshot. An active timer starts (or restarts, if the authoritative
// fields changed) the recomputation loop; an absent or inactive timer
// cancels it.
func (ts *TimerSync) Observe(t *GameTimer) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t == nil || !t.IsActive {
		ts.stopLocked()
		ts.state = TimerIdle
		ts.current = nil
		return
	}

	if ts.current != nil && ts.current.StartedAt == t.StartedAt && ts.current.TotalSec == t.TotalSec {
		return
	}

	ts.stopLocked()
	snapshot := *t
	ts.current = &snapshot
	ts.state = TimerRunning
	cancel := make(chan struct{})
	ts.cancel = cancel
	go ts.run(snapshot, cancel)
}

// Stop cancels any running loop. Must be called when the owning
// component tears down; a leaked loop ticking against since-cleared
// state is a correctness bug, not just a resource leak.
func (ts *TimerSync) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stopLocked()
	ts.state = TimerIdle
	ts.current = nil
}

func (ts *TimerSync) stopLocked() {
	if ts.cancel != nil {
		close(ts.cancel)
		ts.cancel = nil
	}
}

// State returns the local timer state.
func (ts *TimerSync) State() TimerState {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state
}

// Remaining returns the currently derived remaining time, clamped at
// zero.
func (ts *TimerSync) Remaining() time.Duration {
	ts.mu.Lock()
	current := ts.current
	ts.mu.Unlock()
	if current == nil {
		return 0
	}
	return current.Remaining(ts.clock.Now())
}

func (ts *TimerSync) run(t GameTimer, cancel chan struct{}) {
	ticker := ts.clock.NewTicker(ts.interval)
	defer ticker.Stop()

	if ts.step(t, cancel) {
		return
	}
	for {
		select {
		case <-cancel:
			return
		case <-ticker.Chan():
			if ts.step(t, cancel) {
				return
			}
		}
	}
}

// step recomputes the countdown once and reports whether the loop is
// done.
func (ts *TimerSync) step(t GameTimer, cancel chan struct{}) bool {
	remaining := t.Remaining(ts.clock.Now())

	ts.mu.Lock()
	if ts.cancel != cancel {
		// A newer timer superseded this loop while we were unlocked.
		ts.mu.Unlock()
		return true
	}
	expired := remaining <= 0
	if expired {
		ts.state = TimerExpired
		ts.cancel = nil
	}
	ts.mu.Unlock()

	if ts.onTick != nil {
		ts.onTick(remaining)
	}
	if expired {
		if ts.onExpire != nil {
			ts.onExpire()
		}
		return true
	}
	return false
}
