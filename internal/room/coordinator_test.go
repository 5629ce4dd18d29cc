package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/buzzroom/internal/audio"
	"github.com/mcdev12/buzzroom/internal/store"
)

// recordingSession tracks audio lifecycle calls for assertions.
type recordingSession struct {
	mu          sync.Mutex
	initialized bool
	stopped     bool
}

func (s *recordingSession) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *recordingSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *recordingSession) snapshot() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized, s.stopped
}

type coordFixture struct {
	svc    *Service
	clock  clockwork.FakeClock
	store  store.Store
	audio  *recordingSession
	config Config
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	st := store.NewMemStore()
	clock := clockwork.NewFakeClock()
	session := &recordingSession{}
	f := &coordFixture{
		svc:   NewService(st, clock),
		clock: clock,
		store: st,
		audio: session,
	}
	f.config = DefaultConfig()
	f.config.AudioFactory = func(roomCode string, isHost bool) audio.Session {
		return session
	}
	return f
}

func waitForState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

func waitForClose(t *testing.T, c *Coordinator) CloseReason {
	t.Helper()
	select {
	case reason := <-c.Closed():
		return reason
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator never closed")
		return 0
	}
}

func TestCoordinatorCreateBecomesActiveHost(t *testing.T) {
	f := newCoordFixture(t)
	c := NewCoordinator(f.svc, f.config)

	if err := c.Create(context.Background(), "Ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	defer c.close(CloseLeft)

	waitForState(t, c, StateActive)
	if !c.IsHost() {
		t.Fatal("creator should hold host authority")
	}
	room := c.CurrentRoom()
	if room == nil || !room.HasPlayer(c.PlayerID()) {
		t.Fatalf("projection missing local player: %+v", room)
	}

	// The host side brings up an audio session once active.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if initialized, _ := f.audio.snapshot(); initialized {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("audio session never initialized")
}

func TestCoordinatorJoinIsNotHost(t *testing.T) {
	f := newCoordFixture(t)
	host := NewCoordinator(f.svc, f.config)
	if err := host.Create(context.Background(), "Ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	defer host.close(CloseLeft)

	playerCfg := DefaultConfig()
	var playerAudio recordingSession
	playerCfg.AudioFactory = func(string, bool) audio.Session { return &playerAudio }
	player := NewCoordinator(f.svc, playerCfg)
	if err := player.Join(context.Background(), host.RoomCode(), "Leo"); err != nil {
		t.Fatalf("join: %v", err)
	}
	defer player.close(CloseLeft)

	waitForState(t, player, StateActive)
	if player.IsHost() || player.Token() != nil {
		t.Fatal("joiner must not hold host authority")
	}
	if initialized, _ := playerAudio.snapshot(); initialized {
		t.Fatal("non-host started an audio session")
	}
}

func TestCoordinatorJoinUnknownRoom(t *testing.T) {
	f := newCoordFixture(t)
	c := NewCoordinator(f.svc, f.config)

	if err := c.Join(context.Background(), "0000", "Leo"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	// A failed join leaves the coordinator reusable.
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state after failed join = %v, want Disconnected", got)
	}
}

func TestCoordinatorDetectsOwnRemoval(t *testing.T) {
	f := newCoordFixture(t)
	host := NewCoordinator(f.svc, f.config)
	if err := host.Create(context.Background(), "Ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	defer host.close(CloseLeft)

	player := NewCoordinator(f.svc, DefaultConfig())
	if err := player.Join(context.Background(), host.RoomCode(), "Leo"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitForState(t, player, StateActive)

	if err := f.svc.KickPlayer(context.Background(), host.Token(), player.PlayerID()); err != nil {
		t.Fatalf("kick: %v", err)
	}

	if reason := waitForClose(t, player); reason != CloseRemoved {
		t.Fatalf("close reason = %v, want CloseRemoved", reason)
	}
	if got := player.State(); got != StateClosed {
		t.Fatalf("state = %v, want Closed", got)
	}

	// Commands against a closed coordinator fail fast.
	if _, err := player.Buzz(context.Background()); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("buzz after close: %v, want ErrRoomClosed", err)
	}
}

func TestCoordinatorDetectsRoomDeletion(t *testing.T) {
	f := newCoordFixture(t)
	host := NewCoordinator(f.svc, f.config)
	if err := host.Create(context.Background(), "Ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForState(t, host, StateActive)

	player := NewCoordinator(f.svc, DefaultConfig())
	if err := player.Join(context.Background(), host.RoomCode(), "Leo"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitForState(t, player, StateActive)

	if err := f.svc.DeleteRoom(context.Background(), host.Token()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if reason := waitForClose(t, player); reason != CloseRoomDeleted {
		t.Fatalf("player close reason = %v, want CloseRoomDeleted", reason)
	}
	if reason := waitForClose(t, host); reason != CloseRoomDeleted {
		t.Fatalf("host close reason = %v, want CloseRoomDeleted", reason)
	}
	if _, stopped := f.audio.snapshot(); !stopped {
		t.Fatal("audio session not stopped on close")
	}
}

func TestCoordinatorLeaveClosesOnce(t *testing.T) {
	f := newCoordFixture(t)
	host := NewCoordinator(f.svc, f.config)
	if err := host.Create(context.Background(), "Ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	defer host.close(CloseLeft)

	player := NewCoordinator(f.svc, DefaultConfig())
	if err := player.Join(context.Background(), host.RoomCode(), "Leo"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitForState(t, player, StateActive)

	if err := player.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if reason := waitForClose(t, player); reason != CloseLeft {
		t.Fatalf("close reason = %v, want CloseLeft", reason)
	}

	// The voluntary close must win over the removal the subscription is
	// about to observe; the channel delivers exactly one reason.
	select {
	case reason := <-player.Closed():
		t.Fatalf("second close reason delivered: %v", reason)
	case <-time.After(100 * time.Millisecond):
	}

	room, err := f.svc.GetRoom(context.Background(), host.RoomCode())
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if room.HasPlayer(player.PlayerID()) {
		t.Fatal("player entry survived leave")
	}
}

func TestCoordinatorHeartbeatRefreshesActivity(t *testing.T) {
	f := newCoordFixture(t)
	f.config.HeartbeatInterval = time.Minute
	c := NewCoordinator(f.svc, f.config)
	if err := c.Create(context.Background(), "Ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	defer c.close(CloseLeft)
	waitForState(t, c, StateActive)

	before, err := f.svc.GetRoom(context.Background(), c.RoomCode())
	if err != nil {
		t.Fatalf("get room: %v", err)
	}

	// Wait for the heartbeat ticker to register with the fake clock,
	// then step past one interval.
	f.clock.BlockUntil(1)
	f.clock.Advance(time.Minute + time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		after, err := f.svc.GetRoom(context.Background(), c.RoomCode())
		if err != nil {
			t.Fatalf("get room: %v", err)
		}
		if after.LastActivity > before.LastActivity {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("heartbeat never refreshed lastActivity")
}

func TestCoordinatorRejectsDoubleJoin(t *testing.T) {
	f := newCoordFixture(t)
	c := NewCoordinator(f.svc, f.config)
	if err := c.Create(context.Background(), "Ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	defer c.close(CloseLeft)

	if err := c.Join(context.Background(), c.RoomCode(), "Ana"); err == nil {
		t.Fatal("joining twice should fail")
	}
}
