package room

import "errors"

var (
	// ErrRoomNotFound indicates the room code does not exist or the room
	// was deleted. Terminal; never retried automatically.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotHost indicates a host-only command was issued without a host
	// token. Rejected locally, never reaches the store.
	ErrNotHost = errors.New("command requires host authority")

	// ErrNoWinner indicates a winner-scoped command was issued while no
	// buzz winner is recorded.
	ErrNoWinner = errors.New("no buzz winner recorded")

	// ErrNotWinner indicates a player other than the recorded winner
	// tried to submit an answer.
	ErrNotWinner = errors.New("player is not the buzz winner")

	// ErrAnswerAlreadySubmitted indicates the winner already attached an
	// answer to the current winner record.
	ErrAnswerAlreadySubmitted = errors.New("answer already submitted")

	// ErrAnswerConflict indicates an answer write lost its race against a
	// host reset (or a concurrent submission) and was not applied.
	ErrAnswerConflict = errors.New("answer submission conflicted with a reset")

	// ErrRoomClosed indicates the coordinator already reached its
	// terminal state.
	ErrRoomClosed = errors.New("room is closed")
)
