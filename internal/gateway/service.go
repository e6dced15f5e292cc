// Package gateway exposes the room API over HTTP and relays the change feed
// to browsers over WebSocket. It is a thin edge: every write goes through
// the room application layer, every push comes off the feed.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/room"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service wires the REST handlers, the WebSocket pools, and the feed fanout.
type Service struct {
	app     *room.App
	repo    room.RoomsRepository
	manager *ConnectionManager
	fanout  *Fanout
	clock   clockwork.Clock
}

func NewService(app *room.App, repo room.RoomsRepository, consumer Subscriber, connCfg ConnectionConfig, clock clockwork.Clock) *Service {
	manager := NewConnectionManager(connCfg)
	fanout := NewFanout(consumer, manager)

	s := &Service{
		app:     app,
		repo:    repo,
		manager: manager,
		fanout:  fanout,
		clock:   clock,
	}
	manager.SetHeartbeatHook(func(playerID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Heartbeat(ctx, playerID); err != nil {
			log.Warn().Err(err).Str("player_id", playerID.String()).Msg("socket heartbeat write failed")
		}
	})
	return s
}

// Start runs the broadcast loop until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.manager.Run(ctx.Done())
	s.fanout.Close()
}

// Router builds the HTTP surface.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/rooms", s.handleCreateRoom)
		r.Get("/rooms/{code}", s.handleGetSnapshot)
		r.Post("/rooms/{code}/join", s.handleJoinRoom)
		r.Post("/rooms/{roomID}/buzz", s.handleBuzz)
		r.Post("/rooms/{roomID}/kick", s.handleKick)
		r.Post("/players/{playerID}/leave", s.handleLeave)
		r.Post("/players/{playerID}/heartbeat", s.handleHeartbeat)
	})

	r.Get("/ws/rooms", s.handleWebSocket)
	r.Get("/ws/stats", s.handleStats)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}
