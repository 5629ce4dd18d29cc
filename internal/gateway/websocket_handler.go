package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzroom/internal/room"
)

// WebSocketHandler handles WebSocket upgrade requests for room
// connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	svc               *room.Service
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, svc *room.Service) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		svc:               svc,
	}
}

// HandleRoomConnection handles WebSocket connections for a specific room.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("room_code")
	if roomCode == "" {
		http.Error(w, "room_code is required", http.StatusBadRequest)
		return
	}

	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "player_id is required", http.StatusBadRequest)
		return
	}
	playerName := r.URL.Query().Get("player_name")

	// A connection for an unknown room is rejected up front; removal
	// after connect is handled by the feed's RoomClosed broadcast.
	current, err := h.svc.GetRoom(r.Context(), roomCode)
	if err != nil {
		if err == room.ErrRoomNotFound {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("room_code", roomCode).Msg("failed to read room for connection")
		http.Error(w, "failed to read room", http.StatusInternalServerError)
		return
	}
	if playerName == "" {
		if p, ok := current.Players[playerID]; ok {
			playerName = p.Name
		}
	}

	if err := h.connectionManager.UpgradeConnection(w, r, roomCode, playerID, playerName); err != nil {
		log.Error().
			Err(err).
			Str("room_code", roomCode).
			Str("player_id", playerID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
}
