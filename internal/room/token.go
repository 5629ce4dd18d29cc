package room

// HostToken is the capability required by every host-only command. It is
// only minted by CreateRoom (and by ResumeHost after checking the host
// flag in replicated state), so unauthorized commands fail at the type
// level instead of relying on scattered boolean checks. This is a trust
// boundary, not a cryptographic guarantee: the store itself performs no
// server-side authorization.
type HostToken struct {
	roomCode string
	playerID string
}

// RoomCode returns the room this token grants authority over.
func (t *HostToken) RoomCode() string { return t.roomCode }

// PlayerID returns the host player's id.
func (t *HostToken) PlayerID() string { return t.playerID }

func (t *HostToken) valid() bool {
	return t != nil && t.roomCode != "" && t.playerID != ""
}
