package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/buzzroom/internal/room"
)

// EventType represents the type of room event pushed to clients.
type EventType string

const (
	// EventTypeRoomSnapshot carries the full replicated room document.
	// Clients replace their local view wholesale on every delivery.
	EventTypeRoomSnapshot EventType = "RoomSnapshot"
	// EventTypeRoomClosed signals the room was deleted or expired.
	EventTypeRoomClosed EventType = "RoomClosed"
	// EventTypeCommandResult acknowledges a client command.
	EventTypeCommandResult EventType = "CommandResult"
)

// RoomEvent is the envelope for every server→client message.
type RoomEvent struct {
	ID        string          `json:"id"`
	RoomCode  string          `json:"room_code"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CommandAction names a client→server command.
type CommandAction string

const (
	ActionBuzz           CommandAction = "buzz"
	ActionSubmitAnswer   CommandAction = "submit_answer"
	ActionResetBuzz      CommandAction = "reset_buzz"
	ActionAdvanceRound   CommandAction = "advance_round"
	ActionAwardPoints    CommandAction = "award_points"
	ActionSubtractPoints CommandAction = "subtract_points"
	ActionRejectAnswer   CommandAction = "reject_answer"
	ActionSetGameMode    CommandAction = "set_game_mode"
	ActionClearGameMode  CommandAction = "clear_game_mode"
	ActionStartTimer     CommandAction = "start_timer"
	ActionStopTimer      CommandAction = "stop_timer"
	ActionKickPlayer     CommandAction = "kick_player"
	ActionLeave          CommandAction = "leave"
)

// ClientCommand is the inbound message format. Fields beyond Action are
// interpreted per action.
type ClientCommand struct {
	Action   CommandAction  `json:"action"`
	Answer   string         `json:"answer,omitempty"`
	PlayerID string         `json:"player_id,omitempty"`
	Amount   int            `json:"amount,omitempty"`
	Mode     *room.GameMode `json:"mode,omitempty"`
	TotalSec int            `json:"total_sec,omitempty"`
	SongID   string         `json:"song_id,omitempty"`
}

// CommandResult is the payload of a CommandResult event, delivered to
// every connection of the player who issued the command.
type CommandResult struct {
	Action CommandAction `json:"action"`
	OK     bool          `json:"ok"`
	Result string        `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}
