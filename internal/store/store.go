package store

import (
	"context"
	"encoding/json"
)

// Store is the replicated room-state store boundary. Paths are
// slash-separated ("rooms/4821/winnerInfo") and address nodes in a JSON
// document tree. Implementations must guarantee per-path monotonic
// delivery on watches: a subscriber never observes an older snapshot
// after a newer one for the same path. No ordering is guaranteed across
// different rooms.
type Store interface {
	// Get returns the JSON value at path, or ErrNotFound if the path is
	// absent.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Watch delivers the full current value of path immediately and then
	// on every change, until the watcher is stopped or ctx is cancelled.
	// Delivery is at-least-once; intermediate snapshots may be coalesced
	// but never reordered.
	Watch(ctx context.Context, path string) (Watcher, error)

	// Update applies all path→value pairs as a single atomic multi-key
	// write. A nil value deletes the path.
	Update(ctx context.Context, values map[string]any) error

	// CompareAndSet atomically writes value at path iff the current value
	// equals expected. A nil expected means the path must be absent. It
	// reports whether the write was applied; losing the race is not an
	// error. Writes inside a room require the room document to exist and
	// return ErrNotFound otherwise; only the room node itself can be
	// created by an absent-precondition write.
	CompareAndSet(ctx context.Context, path string, expected, value any) (bool, error)

	// Increment atomically adds delta to the numeric value at path,
	// creating it from zero if absent, and returns the new value.
	Increment(ctx context.Context, path string, delta int) (int, error)
}

// Snapshot is one watch delivery: the full value of the watched path at
// some point in time. Exists is false when the path has been deleted or
// never existed.
type Snapshot struct {
	Value  json.RawMessage
	Exists bool
}

// Watcher streams snapshots for a watched path.
type Watcher interface {
	// Updates returns the snapshot channel. It is closed after Stop or
	// context cancellation.
	Updates() <-chan Snapshot

	// Stop terminates the watch. Safe to call more than once.
	Stop()
}
