package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzroom/internal/room"
)

// Feed bridges store subscriptions to the WebSocket pools: while a room
// has at least one connection, one store watch runs for it and every
// delivered snapshot is broadcast to the pool. The store's per-room
// monotonic delivery carries straight through, so no client ever sees an
// older snapshot after a newer one.
type Feed struct {
	svc *room.Service
	cm  *ConnectionManager

	mu      sync.Mutex
	watches map[string]context.CancelFunc
}

// NewFeed creates a feed and hooks it into the connection manager's pool
// lifecycle.
func NewFeed(svc *room.Service, cm *ConnectionManager) *Feed {
	f := &Feed{
		svc:     svc,
		cm:      cm,
		watches: make(map[string]context.CancelFunc),
	}
	cm.onFirstConnection = f.acquire
	cm.onLastConnection = f.release
	return f
}

// acquire starts the room watch when the first connection arrives.
func (f *Feed) acquire(roomCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, running := f.watches[roomCode]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.watches[roomCode] = cancel
	go f.watch(ctx, roomCode)
}

// release stops the room watch when the last connection leaves.
func (f *Feed) release(roomCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cancel, running := f.watches[roomCode]; running {
		cancel()
		delete(f.watches, roomCode)
	}
}

// Stop cancels every running watch.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for code, cancel := range f.watches {
		cancel()
		delete(f.watches, code)
	}
}

func (f *Feed) watch(ctx context.Context, roomCode string) {
	watcher, err := f.svc.WatchRoom(ctx, roomCode)
	if err != nil {
		log.Error().Err(err).Str("room_code", roomCode).Msg("failed to watch room, closing pool")
		f.cm.CloseRoom(roomCode)
		return
	}
	defer watcher.Stop()

	log.Info().Str("room_code", roomCode).Msg("room feed started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("room_code", roomCode).Msg("room feed stopped")
			return
		case snapshot, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if !snapshot.Exists {
				f.cm.BroadcastToRoom(roomCode, &RoomEvent{
					ID:        uuid.New().String(),
					RoomCode:  roomCode,
					Type:      EventTypeRoomClosed,
					Timestamp: time.Now(),
				})
				// Give the broadcast a moment to flush before tearing the
				// pool down; the pool teardown releases this watch.
				go func() {
					time.Sleep(time.Second)
					f.cm.CloseRoom(roomCode)
				}()
				return
			}
			f.cm.BroadcastToRoom(roomCode, &RoomEvent{
				ID:        uuid.New().String(),
				RoomCode:  roomCode,
				Type:      EventTypeRoomSnapshot,
				Timestamp: time.Now(),
				Data:      snapshot.Value,
			})
		}
	}
}
