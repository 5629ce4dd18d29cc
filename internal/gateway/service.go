package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzroom/internal/room"
)

// Service is the room gateway: it accepts WebSocket connections, streams
// room snapshots from the store to every connected client and dispatches
// inbound commands through the room command layer.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	roomsHandler      *RoomsHandler
	feed              *Feed
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a gateway over the given room command service.
func NewService(config Config, svc *room.Service) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	connectionManager.commandHandler = (&dispatcher{svc: svc}).handle
	feed := NewFeed(svc, connectionManager)
	wsHandler := NewWebSocketHandler(connectionManager, svc)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
		roomsHandler:      NewRoomsHandler(svc),
		feed:              feed,
	}
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	go s.connectionManager.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("room gateway service shutting down")
	s.feed.Stop()
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.roomsHandler.RegisterRoutes(mux)
	mux.HandleFunc("/ws/stats", s.handleStats)
	log.Info().Msg("room gateway routes registered")
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.GetStats())
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "room_gateway"
	return stats
}
