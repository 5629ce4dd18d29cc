package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzroom/internal/audio"
	"github.com/mcdev12/buzzroom/internal/store"
)

// State is the coordinator lifecycle state for one room.
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "Joining"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	default:
		return "Disconnected"
	}
}

// CloseReason explains the coordinator's terminal transition.
type CloseReason int

const (
	// CloseRoomDeleted means the store reported the room path absent.
	CloseRoomDeleted CloseReason = iota
	// CloseRemoved means the local player id vanished from the delivered
	// player map (kicked or removed by another client).
	CloseRemoved
	// CloseLeft means the local participant left voluntarily.
	CloseLeft
)

func (r CloseReason) String() string {
	switch r {
	case CloseRemoved:
		return "removed from room"
	case CloseLeft:
		return "left room"
	default:
		return "room no longer available"
	}
}

// Config tunes a coordinator.
type Config struct {
	// HeartbeatInterval is how often the activity timestamp is refreshed
	// while the room is active.
	HeartbeatInterval time.Duration

	// AudioFactory builds the per-room audio session for the host.
	AudioFactory audio.Factory

	// OnUpdate, if set, observes every projection replacement.
	OnUpdate func(*Room)

	// OnTimerTick, if set, observes every derived countdown value.
	OnTimerTick func(remaining time.Duration)
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 60 * time.Second,
		AudioFactory:      audio.NopFactory,
	}
}

// Coordinator owns the local participant's view of one room: it joins or
// creates the room, replaces the projection wholesale on every
// subscription push, detects its own removal, refreshes the activity
// heartbeat and drives the shared-timer recomputation loop. State flows
// Disconnected → Joining → Active → Closed; Closed is terminal and is
// surfaced exactly once on the Closed channel.
type Coordinator struct {
	svc    *Service
	config Config

	code       string
	playerID   string
	playerName string
	token      *HostToken

	mu      sync.Mutex
	state   State
	room    *Room
	audioSn audio.Session

	timer *TimerSync

	cancel    context.CancelFunc
	closed    chan CloseReason
	closeOnce sync.Once
}

// NewCoordinator creates a coordinator over the given command service.
func NewCoordinator(svc *Service, config Config) *Coordinator {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if config.AudioFactory == nil {
		config.AudioFactory = audio.NopFactory
	}
	c := &Coordinator{
		svc:    svc,
		config: config,
		state:  StateDisconnected,
		closed: make(chan CloseReason, 1),
	}
	c.timer = NewTimerSync(svc.Clock(), config.OnTimerTick, c.onTimerExpired)
	return c
}

// Create claims a fresh room with the local participant as host, then
// subscribes to it.
func (c *Coordinator) Create(ctx context.Context, hostName string) error {
	if err := c.beginJoining(); err != nil {
		return err
	}
	code, playerID, token, err := c.svc.CreateRoom(ctx, hostName)
	if err != nil {
		c.resetToDisconnected()
		return err
	}
	c.code = code
	c.playerID = playerID
	c.playerName = hostName
	c.token = token
	return c.start(ctx)
}

// Join registers the local participant as a player in an existing room,
// then subscribes to it.
func (c *Coordinator) Join(ctx context.Context, code, name string) error {
	if err := c.beginJoining(); err != nil {
		return err
	}
	playerID, err := c.svc.JoinRoom(ctx, code, name)
	if err != nil {
		c.resetToDisconnected()
		return err
	}
	c.code = code
	c.playerID = playerID
	c.playerName = name
	return c.start(ctx)
}

func (c *Coordinator) beginJoining() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDisconnected:
		c.state = StateJoining
		return nil
	case StateClosed:
		return ErrRoomClosed
	default:
		return fmt.Errorf("coordinator already %s", c.state)
	}
}

func (c *Coordinator) resetToDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

func (c *Coordinator) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	watcher, err := c.svc.Store().Watch(runCtx, roomPath(c.code))
	if err != nil {
		cancel()
		c.resetToDisconnected()
		return fmt.Errorf("subscribe to room %s: %w", c.code, err)
	}

	go c.run(watcher)
	go c.heartbeat(runCtx)
	return nil
}

// run consumes subscription pushes until a terminal condition. Every
// delivered snapshot replaces the projection wholesale; the store already
// serializes concurrent writes per path, so last write wins at the
// projection level.
func (c *Coordinator) run(watcher store.Watcher) {
	defer watcher.Stop()

	for snapshot := range watcher.Updates() {
		if !snapshot.Exists {
			log.Info().Str("room_code", c.code).Msg("room deleted or expired")
			c.close(CloseRoomDeleted)
			return
		}

		var room Room
		if err := json.Unmarshal(snapshot.Value, &room); err != nil {
			log.Error().Err(err).Str("room_code", c.code).Msg("dropping undecodable room snapshot")
			continue
		}

		if !room.HasPlayer(c.playerID) {
			log.Info().
				Str("room_code", c.code).
				Str("player_id", c.playerID).
				Msg("local player missing from delivered player map")
			c.close(CloseRemoved)
			return
		}

		c.applySnapshot(&room)
	}
}

func (c *Coordinator) applySnapshot(room *Room) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if c.state == StateJoining {
		c.state = StateActive
		log.Info().
			Str("room_code", c.code).
			Str("player_id", c.playerID).
			Bool("is_host", c.token != nil).
			Msg("room subscription active")
	}
	c.room = room
	startAudio := c.token != nil && c.audioSn == nil
	if startAudio {
		c.audioSn = c.config.AudioFactory(c.code, true)
	}
	session := c.audioSn
	c.mu.Unlock()

	if startAudio {
		go func() {
			if err := session.Initialize(context.Background()); err != nil {
				log.Warn().Err(err).Str("room_code", c.code).Msg("audio session failed to initialize")
			}
		}()
	}

	c.timer.Observe(room.GameTimer)
	if c.config.OnUpdate != nil {
		c.config.OnUpdate(room)
	}
}

// heartbeat periodically refreshes the room's activity timestamp while
// the subscription is live. Failures are logged and retried on the next
// interval tick, never escalated.
func (c *Coordinator) heartbeat(ctx context.Context) {
	ticker := c.svc.Clock().NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.svc.Heartbeat(ctx, c.code); err != nil {
				log.Warn().Err(err).Str("room_code", c.code).Msg("activity heartbeat failed")
			}
		}
	}
}

// onTimerExpired runs when the local countdown reaches zero. Everybody
// detects expiry independently; only the host performs the authoritative
// clear of the shared timer state.
func (c *Coordinator) onTimerExpired() {
	token := c.token
	if token == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.svc.StopTimer(ctx, token); err != nil {
		log.Warn().Err(err).Str("room_code", c.code).Msg("failed to clear expired timer")
	}
}

// close performs the terminal transition exactly once: it cancels the
// subscription and every background loop, tears down the audio session
// and delivers the reason on the Closed channel.
func (c *Coordinator) close(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		session := c.audioSn
		c.audioSn = nil
		c.mu.Unlock()

		if c.cancel != nil {
			c.cancel()
		}
		c.timer.Stop()
		if session != nil {
			session.Stop()
		}
		c.closed <- reason
		log.Info().
			Str("room_code", c.code).
			Str("reason", reason.String()).
			Msg("room coordinator closed")
	})
}

// Closed delivers the terminal close reason exactly once.
func (c *Coordinator) Closed() <-chan CloseReason { return c.closed }

// Leave removes the local player and closes the coordinator.
func (c *Coordinator) Leave(ctx context.Context) error {
	if err := c.svc.LeaveRoom(ctx, c.code, c.playerID); err != nil {
		return err
	}
	c.close(CloseLeft)
	return nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentRoom returns the latest projection, or nil before the first
// delivery.
func (c *Coordinator) CurrentRoom() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// RoomCode returns the joined room's code.
func (c *Coordinator) RoomCode() string { return c.code }

// PlayerID returns the local player id.
func (c *Coordinator) PlayerID() string { return c.playerID }

// IsHost reports whether the local participant holds host authority.
func (c *Coordinator) IsHost() bool { return c.token != nil }

// Token returns the host capability, or nil for non-hosts.
func (c *Coordinator) Token() *HostToken { return c.token }

// Timer exposes the local countdown synchronizer.
func (c *Coordinator) Timer() *TimerSync { return c.timer }

// Buzz claims the current round for the local player.
func (c *Coordinator) Buzz(ctx context.Context) (BuzzResult, error) {
	if c.State() != StateActive {
		return AlreadyWon, ErrRoomClosed
	}
	return c.svc.Buzz(ctx, c.code, c.playerID, c.playerName)
}

// SubmitAnswer submits the local player's answer for the current round.
func (c *Coordinator) SubmitAnswer(ctx context.Context, answer string) error {
	if c.State() != StateActive {
		return ErrRoomClosed
	}
	return c.svc.SubmitAnswer(ctx, c.code, c.playerID, answer)
}

// AwardToWinner grants the current winner the active mode's correct-answer
// points (host only).
func (c *Coordinator) AwardToWinner(ctx context.Context) error {
	winner, settings, err := c.winnerAndSettings()
	if err != nil {
		return err
	}
	return c.svc.AwardPoints(ctx, c.token, winner.PlayerID, settings.CorrectPoints)
}

// SubtractFromWinner deducts the active mode's penalty from the current
// winner (host only).
func (c *Coordinator) SubtractFromWinner(ctx context.Context) error {
	winner, settings, err := c.winnerAndSettings()
	if err != nil {
		return err
	}
	return c.svc.SubtractPoints(ctx, c.token, winner.PlayerID, settings.IncorrectPoints)
}

func (c *Coordinator) winnerAndSettings() (*WinnerInfo, ModeSettings, error) {
	if c.token == nil {
		return nil, ModeSettings{}, ErrNotHost
	}
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil || room.WinnerInfo == nil {
		return nil, ModeSettings{}, ErrNoWinner
	}
	settings := DefaultModeSettings(ModeClassic)
	if room.GameMode != nil {
		settings = room.GameMode.Settings
	}
	return room.WinnerInfo, settings, nil
}
