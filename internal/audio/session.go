// Package audio is the boundary to the host↔player audio transport. The
// room core only manages the session lifecycle: one session exists while
// the local participant is host of an active room, and it is torn down on
// role or room exit. The transport itself lives behind the Session
// interface.
package audio

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Session is one room's audio stream.
type Session interface {
	// Initialize sets up the stream. It may fail; failure is logged by
	// callers and is not fatal to the room.
	Initialize(ctx context.Context) error

	// Stop tears the stream down. Idempotent.
	Stop()
}

// Factory builds a session for a room. isHost reports whether the local
// participant publishes or consumes the stream.
type Factory func(roomCode string, isHost bool) Session

// NopFactory returns sessions that only log lifecycle transitions. Used
// when no audio transport is wired in.
func NopFactory(roomCode string, isHost bool) Session {
	return &nopSession{roomCode: roomCode, isHost: isHost}
}

type nopSession struct {
	roomCode string
	isHost   bool
	stopped  bool
}

func (s *nopSession) Initialize(ctx context.Context) error {
	log.Debug().
		Str("room_code", s.roomCode).
		Bool("is_host", s.isHost).
		Msg("audio session initialized (nop)")
	return nil
}

func (s *nopSession) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	log.Debug().Str("room_code", s.roomCode).Msg("audio session stopped (nop)")
}
