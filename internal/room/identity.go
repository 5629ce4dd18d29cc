package room

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// RoomCodeLength is the fixed length of the human-entered room code.
const RoomCodeLength = 4

// GenerateRoomCode produces a random fixed-length digit code. Callers
// must still check for collisions against the store; uniqueness comes
// from retrying, not from this function.
func GenerateRoomCode() string {
	max := 1
	for i := 0; i < RoomCodeLength; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", RoomCodeLength, rand.Intn(max))
}

// NewPlayerID derives a player id from the display name and the local
// clock: the normalized name plus the low-order digits of the creation
// instant. Ids only need to be unique within one room's lifetime, so no
// central allocation is involved.
func NewPlayerID(name string, now time.Time) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	millis := fmt.Sprintf("%d", now.UnixMilli())
	if len(millis) > 6 {
		millis = millis[len(millis)-6:]
	}
	return fmt.Sprintf("%s_%s", normalized, millis)
}
