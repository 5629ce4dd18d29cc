package room

import "time"

// Room is the replicated document for one game session, addressed by its
// 4-digit code.
type Room struct {
	HostName     string            `json:"hostName"`
	CreatedAt    int64             `json:"createdAt"`
	LastActivity int64             `json:"lastActivity"`
	WinnerInfo   *WinnerInfo       `json:"winnerInfo,omitempty"`
	Players      map[string]Player `json:"players,omitempty"`
	GameMode     *GameMode         `json:"gameMode,omitempty"`
	GameTimer    *GameTimer        `json:"gameTimer,omitempty"`
	PlayedSongs  []string          `json:"playedSongs,omitempty"`
}

// Player is one participant's entry in the room. Exactly one player per
// room carries IsHost, assigned at creation and never transferred.
type Player struct {
	Name     string `json:"name"`
	IsHost   bool   `json:"isHost,omitempty"`
	JoinedAt int64  `json:"joinedAt"`
	Points   int    `json:"points"`
	Team     string `json:"team,omitempty"`
}

// WinnerInfo records the outcome of one buzz race. It is created only by
// a successful conditional write and cleared only by a host reset.
type WinnerInfo struct {
	PlayerID     string `json:"playerId"`
	PlayerName   string `json:"playerName"`
	Timestamp    int64  `json:"timestamp"`
	Answer       string `json:"answer,omitempty"`
	RemainingSec *int   `json:"remainingSec,omitempty"`
}

// ModeVariant names one of the closed set of game-mode rulesets.
type ModeVariant string

const (
	ModeClassic  ModeVariant = "classic"
	ModeSpeed    ModeVariant = "speed"
	ModeMarathon ModeVariant = "marathon"
	ModeTeams    ModeVariant = "teams"
)

// GameMode is the host-selected ruleset broadcast as part of room state.
// It is purely declarative; enforcement of its settings is command-layer
// policy.
type GameMode struct {
	Variant  ModeVariant  `json:"variant"`
	Settings ModeSettings `json:"settings"`
}

// ModeSettings carries the tunables of a game-mode variant.
type ModeSettings struct {
	CorrectPoints   int  `json:"correctPoints"`
	IncorrectPoints int  `json:"incorrectPoints"`
	TimeLimitSec    int  `json:"timeLimitSec,omitempty"`
	AutoAdvance     bool `json:"autoAdvance,omitempty"`
	TeamsEnabled    bool `json:"teamsEnabled,omitempty"`
}

// DefaultModeSettings returns the stock settings for a variant.
func DefaultModeSettings(variant ModeVariant) ModeSettings {
	switch variant {
	case ModeSpeed:
		return ModeSettings{CorrectPoints: 15, IncorrectPoints: 10, TimeLimitSec: 10, AutoAdvance: true}
	case ModeMarathon:
		return ModeSettings{CorrectPoints: 5, IncorrectPoints: 2}
	case ModeTeams:
		return ModeSettings{CorrectPoints: 10, IncorrectPoints: 5, TeamsEnabled: true}
	default:
		return ModeSettings{CorrectPoints: 10, IncorrectPoints: 5}
	}
}

// GameTimer is the replicated countdown record. Only the absolute start
// instant and total duration are authoritative; every participant derives
// the remaining time locally, so stored state never carries a countdown
// value skewed by somebody else's clock.
type GameTimer struct {
	IsActive  bool  `json:"isActive"`
	TotalSec  int   `json:"totalSec"`
	StartedAt int64 `json:"startedAt"` // unix milliseconds
}

// Remaining computes the time left on the countdown as seen at now,
// clamped to never go negative.
func (t *GameTimer) Remaining(now time.Time) time.Duration {
	if t == nil || !t.IsActive {
		return 0
	}
	elapsed := now.Sub(time.UnixMilli(t.StartedAt))
	remaining := time.Duration(t.TotalSec)*time.Second - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HostID returns the player id carrying the host flag, or "".
func (r *Room) HostID() string {
	for id, p := range r.Players {
		if p.IsHost {
			return id
		}
	}
	return ""
}

// HasPlayer reports whether the given player id is present in the room.
func (r *Room) HasPlayer(id string) bool {
	_, ok := r.Players[id]
	return ok
}
