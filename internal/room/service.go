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

// Service is the command layer over one store: every mutation of room
// state goes through here. Host-only commands require a HostToken and
// are rejected locally before any write is issued. All commands are
// fire-and-forget from the projection's point of view: a failed write
// never touches local state, which is only ever replaced by
// authoritative subscription pushes.
type Service struct {
	store   store.Store
	clock   clockwork.Clock
	arbiter *Arbiter
}

// NewService creates a command service over the given store.
func NewService(st store.Store, clock clockwork.Clock) *Service {
	return &Service{
		store:   st,
		clock:   clock,
		arbiter: NewArbiter(st, clock),
	}
}

// Store exposes the underlying store for read/watch composition.
func (s *Service) Store() store.Store { return s.store }

// Clock exposes the service clock.
func (s *Service) Clock() clockwork.Clock { return s.clock }

// WatchRoom subscribes to a room's subtree.
func (s *Service) WatchRoom(ctx context.Context, code string) (store.Watcher, error) {
	return s.store.Watch(ctx, roomPath(code))
}

// RoomExists checks whether a room code is currently claimed.
func (s *Service) RoomExists(ctx context.Context, code string) (bool, error) {
	_, err := s.store.Get(ctx, roomPath(code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check room %s: %w", code, err)
	}
	return true, nil
}

// GetRoom reads the full room document.
func (s *Service) GetRoom(ctx context.Context, code string) (*Room, error) {
	data, err := s.store.Get(ctx, roomPath(code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("read room %s: %w", code, err)
	}
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", code, err)
	}
	return &room, nil
}

// CreateRoom claims a collision-free room code and writes the initial
// room document with the creator as host. The code claim itself is a
// conditional write, so two hosts generating the same code cannot both
// own it; the loser just regenerates. Returns the code, the host's
// player id and the host capability token.
func (s *Service) CreateRoom(ctx context.Context, hostName string) (string, string, *HostToken, error) {
	now := s.clock.Now()
	playerID := NewPlayerID(hostName, now)

	for {
		code := GenerateRoomCode()
		doc := Room{
			HostName:     hostName,
			CreatedAt:    now.UnixMilli(),
			LastActivity: now.UnixMilli(),
			Players: map[string]Player{
				playerID: {Name: hostName, IsHost: true, JoinedAt: now.UnixMilli()},
			},
		}
		applied, err := s.store.CompareAndSet(ctx, roomPath(code), nil, doc)
		if err != nil {
			return "", "", nil, fmt.Errorf("create room: %w", err)
		}
		if !applied {
			log.Debug().Str("room_code", code).Msg("room code collision, regenerating")
			continue
		}
		log.Info().
			Str("room_code", code).
			Str("player_id", playerID).
			Msg("room created")
		return code, playerID, &HostToken{roomCode: code, playerID: playerID}, nil
	}
}

// JoinRoom registers a new player under an existing room and returns the
// generated player id.
func (s *Service) JoinRoom(ctx context.Context, code, name string) (string, error) {
	exists, err := s.RoomExists(ctx, code)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrRoomNotFound
	}

	now := s.clock.Now()
	playerID := NewPlayerID(name, now)
	err = s.store.Update(ctx, map[string]any{
		playerPath(code, playerID): Player{Name: name, JoinedAt: now.UnixMilli()},
		lastActivityPath(code):     now.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("join room %s: %w", code, err)
	}
	log.Info().
		Str("room_code", code).
		Str("player_id", playerID).
		Msg("player joined room")
	return playerID, nil
}

// Buzz attempts to claim the current round for a player.
func (s *Service) Buzz(ctx context.Context, code, playerID, playerName string) (BuzzResult, error) {
	return s.arbiter.AttemptBuzz(ctx, code, playerID, playerName)
}

// SubmitAnswer attaches the winner's free-text answer to the current
// WinnerInfo as an atomic single-path replace: the write only lands if
// the winner record is still the one observed here and carries no answer
// yet. A concurrent host reset (or second submission) fails the
// precondition instead of resurrecting a cleared record.
func (s *Service) SubmitAnswer(ctx context.Context, code, playerID, answer string) error {
	data, err := s.store.Get(ctx, winnerPath(code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoWinner
		}
		return fmt.Errorf("read winner info: %w", err)
	}
	var winner WinnerInfo
	if err := json.Unmarshal(data, &winner); err != nil {
		return fmt.Errorf("decode winner info: %w", err)
	}
	if winner.PlayerID != playerID {
		return ErrNotWinner
	}
	if winner.Answer != "" {
		return ErrAnswerAlreadySubmitted
	}

	updated := winner
	updated.Answer = answer
	applied, err := s.store.CompareAndSet(ctx, winnerPath(code), winner, updated)
	if err != nil {
		return fmt.Errorf("submit answer: %w", err)
	}
	if !applied {
		return ErrAnswerConflict
	}
	s.touch(ctx, code)
	return nil
}

// ResetBuzz clears the current winner so the next round can start. The
// write is unconditional: only the host issues it and a second reset is
// idempotent, so no race protection is needed.
func (s *Service) ResetBuzz(ctx context.Context, token *HostToken) error {
	if !token.valid() {
		return ErrNotHost
	}
	err := s.store.Update(ctx, map[string]any{
		winnerPath(token.roomCode):       nil,
		lastActivityPath(token.roomCode): s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("reset buzz: %w", err)
	}
	return nil
}

// AdvanceRound clears the winner and records the played song in one
// atomic multi-key update, so no subscriber can observe the round
// cleared without the song recorded.
func (s *Service) AdvanceRound(ctx context.Context, token *HostToken, songID string) error {
	if !token.valid() {
		return ErrNotHost
	}
	room, err := s.GetRoom(ctx, token.roomCode)
	if err != nil {
		return err
	}
	played := append(append([]string(nil), room.PlayedSongs...), songID)
	err = s.store.Update(ctx, map[string]any{
		winnerPath(token.roomCode):       nil,
		playedSongsPath(token.roomCode):  played,
		lastActivityPath(token.roomCode): s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("advance round: %w", err)
	}
	return nil
}

// AwardPoints adds points to a player as an atomic store increment.
func (s *Service) AwardPoints(ctx context.Context, token *HostToken, playerID string, amount int) error {
	return s.adjustPoints(ctx, token, playerID, amount)
}

// SubtractPoints removes points from a player. Points may go negative.
func (s *Service) SubtractPoints(ctx context.Context, token *HostToken, playerID string, amount int) error {
	return s.adjustPoints(ctx, token, playerID, -amount)
}

func (s *Service) adjustPoints(ctx context.Context, token *HostToken, playerID string, delta int) error {
	if !token.valid() {
		return ErrNotHost
	}
	total, err := s.store.Increment(ctx, pointsPath(token.roomCode, playerID), delta)
	if err != nil {
		return fmt.Errorf("adjust points for %s: %w", playerID, err)
	}
	s.touch(ctx, token.roomCode)
	log.Info().
		Str("room_code", token.roomCode).
		Str("player_id", playerID).
		Int("delta", delta).
		Int("total", total).
		Msg("points adjusted")
	return nil
}

// RejectAnswer penalizes the current winner per the active game mode and
// clears the winner record. The penalty and the clear are separate
// writes; the clear is last so a crash in between never strands a
// cleared round with an unpenalized winner.
func (s *Service) RejectAnswer(ctx context.Context, token *HostToken) error {
	if !token.valid() {
		return ErrNotHost
	}
	room, err := s.GetRoom(ctx, token.roomCode)
	if err != nil {
		return err
	}
	if room.WinnerInfo == nil {
		return ErrNoWinner
	}
	penalty := DefaultModeSettings(ModeClassic).IncorrectPoints
	if room.GameMode != nil {
		penalty = room.GameMode.Settings.IncorrectPoints
	}
	if err := s.adjustPoints(ctx, token, room.WinnerInfo.PlayerID, -penalty); err != nil {
		return err
	}
	return s.ResetBuzz(ctx, token)
}

// SetGameMode selects the active ruleset for the room.
func (s *Service) SetGameMode(ctx context.Context, token *HostToken, mode GameMode) error {
	if !token.valid() {
		return ErrNotHost
	}
	err := s.store.Update(ctx, map[string]any{
		modePath(token.roomCode):         mode,
		lastActivityPath(token.roomCode): s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("set game mode: %w", err)
	}
	return nil
}

// ClearGameMode removes the active ruleset.
func (s *Service) ClearGameMode(ctx context.Context, token *HostToken) error {
	if !token.valid() {
		return ErrNotHost
	}
	err := s.store.Update(ctx, map[string]any{
		modePath(token.roomCode):         nil,
		lastActivityPath(token.roomCode): s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("clear game mode: %w", err)
	}
	return nil
}

// StartTimer publishes a countdown: an absolute start instant plus a
// total duration. Participants derive the ticking display locally from
// those two fields, so nobody ever trusts anybody else's remaining-time
// arithmetic.
func (s *Service) StartTimer(ctx context.Context, token *HostToken, total int) error {
	if !token.valid() {
		return ErrNotHost
	}
	timer := GameTimer{
		IsActive:  true,
		TotalSec:  total,
		StartedAt: s.clock.Now().UnixMilli(),
	}
	err := s.store.Update(ctx, map[string]any{
		timerPath(token.roomCode):        timer,
		lastActivityPath(token.roomCode): s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("start timer: %w", err)
	}
	return nil
}

// StopTimer clears the countdown. Used both for the explicit host stop
// and for the host's authoritative clear on expiry; both are
// unconditional and idempotent.
func (s *Service) StopTimer(ctx context.Context, token *HostToken) error {
	if !token.valid() {
		return ErrNotHost
	}
	err := s.store.Update(ctx, map[string]any{
		timerPath(token.roomCode): nil,
	})
	if err != nil {
		return fmt.Errorf("stop timer: %w", err)
	}
	return nil
}

// KickPlayer removes a player entry. The kicked client's own coordinator
// observes its id missing from the next delivery and self-terminates.
func (s *Service) KickPlayer(ctx context.Context, token *HostToken, playerID string) error {
	if !token.valid() {
		return ErrNotHost
	}
	if playerID == token.playerID {
		return errors.New("host cannot kick itself")
	}
	err := s.store.Update(ctx, map[string]any{
		playerPath(token.roomCode, playerID): nil,
		lastActivityPath(token.roomCode):     s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("kick player %s: %w", playerID, err)
	}
	log.Info().
		Str("room_code", token.roomCode).
		Str("player_id", playerID).
		Msg("player kicked")
	return nil
}

// LeaveRoom is voluntary self-removal, issued by the leaving client.
func (s *Service) LeaveRoom(ctx context.Context, code, playerID string) error {
	err := s.store.Update(ctx, map[string]any{
		playerPath(code, playerID): nil,
		lastActivityPath(code):     s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("leave room %s: %w", code, err)
	}
	return nil
}

// DeleteRoom tears down the whole room subtree.
func (s *Service) DeleteRoom(ctx context.Context, token *HostToken) error {
	if !token.valid() {
		return ErrNotHost
	}
	err := s.store.Update(ctx, map[string]any{
		roomPath(token.roomCode): nil,
	})
	if err != nil {
		return fmt.Errorf("delete room %s: %w", token.roomCode, err)
	}
	return nil
}

// Heartbeat refreshes the room's activity timestamp. Liveness only,
// never a correctness dependency; callers swallow failures.
func (s *Service) Heartbeat(ctx context.Context, code string) error {
	err := s.store.Update(ctx, map[string]any{
		lastActivityPath(code): s.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("heartbeat room %s: %w", code, err)
	}
	return nil
}

// ResumeHost re-derives the host capability for a reconnecting
// participant by checking the host flag in replicated state. Anyone who
// can present the host player's id can obtain the token; that is the
// same trust boundary the rest of the protocol lives with.
func (s *Service) ResumeHost(ctx context.Context, code, playerID string) (*HostToken, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	player, ok := room.Players[playerID]
	if !ok || !player.IsHost {
		return nil, ErrNotHost
	}
	return &HostToken{roomCode: code, playerID: playerID}, nil
}

// touch best-effort refreshes lastActivity alongside a user command.
func (s *Service) touch(ctx context.Context, code string) {
	if err := s.Heartbeat(ctx, code); err != nil {
		log.Warn().Err(err).Str("room_code", code).Msg("failed to refresh room activity")
	}
}
