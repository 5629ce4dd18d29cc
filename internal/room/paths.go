package room

import "fmt"

// Store paths for one room's subtree. All room state lives under
// rooms/<code>; the store only guarantees write ordering within that
// subtree.

func roomPath(code string) string {
	return fmt.Sprintf("rooms/%s", code)
}

func playerPath(code, playerID string) string {
	return fmt.Sprintf("rooms/%s/players/%s", code, playerID)
}

func pointsPath(code, playerID string) string {
	return fmt.Sprintf("rooms/%s/players/%s/points", code, playerID)
}

func winnerPath(code string) string {
	return fmt.Sprintf("rooms/%s/winnerInfo", code)
}

func timerPath(code string) string {
	return fmt.Sprintf("rooms/%s/gameTimer", code)
}

func modePath(code string) string {
	return fmt.Sprintf("rooms/%s/gameMode", code)
}

func playedSongsPath(code string) string {
	return fmt.Sprintf("rooms/%s/playedSongs", code)
}

func lastActivityPath(code string) string {
	return fmt.Sprintf("rooms/%s/lastActivity", code)
}
