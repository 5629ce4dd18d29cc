package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzroom/internal/room"
)

// RoomsHandler exposes the join/create surface over plain HTTP. Clients
// call these once to obtain their room code and player id, then attach to
// the WebSocket endpoint for everything else.
type RoomsHandler struct {
	svc *room.Service
}

// NewRoomsHandler creates the HTTP handler for room membership.
func NewRoomsHandler(svc *room.Service) *RoomsHandler {
	return &RoomsHandler{svc: svc}
}

type createRoomRequest struct {
	HostName string `json:"host_name"`
}

type createRoomResponse struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
}

type joinRoomRequest struct {
	RoomCode string `json:"room_code"`
	Name     string `json:"name"`
}

type joinRoomResponse struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
}

// HandleCreateRoom creates a room and returns the host identity.
func (h *RoomsHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostName == "" {
		http.Error(w, "host_name is required", http.StatusBadRequest)
		return
	}

	code, playerID, _, err := h.svc.CreateRoom(r.Context(), req.HostName)
	if err != nil {
		log.Error().Err(err).Msg("failed to create room")
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{RoomCode: code, PlayerID: playerID})
}

// HandleJoinRoom registers a player in an existing room.
func (h *RoomsHandler) HandleJoinRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomCode == "" || req.Name == "" {
		http.Error(w, "room_code and name are required", http.StatusBadRequest)
		return
	}

	playerID, err := h.svc.JoinRoom(r.Context(), req.RoomCode, req.Name)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("room_code", req.RoomCode).Msg("failed to join room")
		http.Error(w, "failed to join room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, joinRoomResponse{RoomCode: req.RoomCode, PlayerID: playerID})
}

// RegisterRoutes registers the membership routes with an HTTP mux.
func (h *RoomsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/rooms/create", h.HandleCreateRoom)
	mux.HandleFunc("/rooms/join", h.HandleJoinRoom)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
