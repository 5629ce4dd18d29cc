package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzroom/internal/room"
)

const commandTimeout = 10 * time.Second

// dispatcher routes inbound client commands to the room service. Player
// commands act as the connection's player; host commands first re-derive
// the host capability from replicated state, so an unauthorized command
// is rejected here and never reaches the store.
type dispatcher struct {
	svc *room.Service
}

func (d *dispatcher) handle(conn *Connection, data []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Debug().
			Str("connection_id", conn.ID).
			Err(err).
			Msg("dropping unparseable client message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	result := CommandResult{Action: cmd.Action, OK: true}
	switch cmd.Action {
	case ActionBuzz:
		outcome, err := d.svc.Buzz(ctx, conn.RoomCode, conn.PlayerID, conn.PlayerName)
		if err != nil {
			result = failure(cmd.Action, err)
			break
		}
		result.Result = outcome.String()

	case ActionSubmitAnswer:
		if err := d.svc.SubmitAnswer(ctx, conn.RoomCode, conn.PlayerID, cmd.Answer); err != nil {
			result = failure(cmd.Action, err)
		}

	case ActionLeave:
		if err := d.svc.LeaveRoom(ctx, conn.RoomCode, conn.PlayerID); err != nil {
			result = failure(cmd.Action, err)
		}

	case ActionResetBuzz, ActionAdvanceRound, ActionAwardPoints, ActionSubtractPoints,
		ActionRejectAnswer, ActionSetGameMode, ActionClearGameMode,
		ActionStartTimer, ActionStopTimer, ActionKickPlayer:
		if err := d.handleHostCommand(ctx, conn, cmd); err != nil {
			result = failure(cmd.Action, err)
		}

	default:
		result = CommandResult{Action: cmd.Action, OK: false, Error: "unknown action"}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal command result")
		return
	}
	// Results go to every connection of the issuing player, so a second
	// tab of the same player sees the outcome too.
	conn.Manager.BroadcastToPlayer(conn.RoomCode, conn.PlayerID, &RoomEvent{
		ID:        uuid.New().String(),
		RoomCode:  conn.RoomCode,
		Type:      EventTypeCommandResult,
		Timestamp: time.Now(),
		Data:      payload,
	})
}

func (d *dispatcher) handleHostCommand(ctx context.Context, conn *Connection, cmd ClientCommand) error {
	token, err := d.svc.ResumeHost(ctx, conn.RoomCode, conn.PlayerID)
	if err != nil {
		return err
	}

	switch cmd.Action {
	case ActionResetBuzz:
		return d.svc.ResetBuzz(ctx, token)
	case ActionAdvanceRound:
		return d.svc.AdvanceRound(ctx, token, cmd.SongID)
	case ActionAwardPoints:
		return d.svc.AwardPoints(ctx, token, cmd.PlayerID, cmd.Amount)
	case ActionSubtractPoints:
		return d.svc.SubtractPoints(ctx, token, cmd.PlayerID, cmd.Amount)
	case ActionRejectAnswer:
		return d.svc.RejectAnswer(ctx, token)
	case ActionSetGameMode:
		if cmd.Mode == nil {
			return errors.New("set_game_mode requires a mode")
		}
		return d.svc.SetGameMode(ctx, token, *cmd.Mode)
	case ActionClearGameMode:
		return d.svc.ClearGameMode(ctx, token)
	case ActionStartTimer:
		return d.svc.StartTimer(ctx, token, cmd.TotalSec)
	case ActionStopTimer:
		return d.svc.StopTimer(ctx, token)
	case ActionKickPlayer:
		return d.svc.KickPlayer(ctx, token, cmd.PlayerID)
	}
	return errors.New("unknown host action")
}

func failure(action CommandAction, err error) CommandResult {
	return CommandResult{Action: action, OK: false, Error: err.Error()}
}
