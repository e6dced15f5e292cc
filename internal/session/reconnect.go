// Package session restores a client's identity in a room after a dropped
// connection. Reconnection only ever rebinds to an existing player row;
// any ambiguity resolves to "rejoin as a new player".
package session

import (
	"context"

	"github.com/jdorel/blindtest/internal/models"
	"github.com/jdorel/blindtest/internal/roomcode"
	"github.com/rs/zerolog/log"

	"github.com/google/uuid"
)

// Store is what reconnection needs from the room repository.
type Store interface {
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error)
	TouchPlayer(ctx context.Context, id uuid.UUID) error
}

// Resumed is the hydrated session state, read entirely from the store.
// Local caches are never trusted across a reconnect.
type Resumed struct {
	Room    *models.Room
	Player  *models.Player
	Players []models.Player
}

// Manager attempts session restoration from the persisted token.
type Manager struct {
	store  Store
	tokens *TokenStore
}

func NewManager(store Store, tokens *TokenStore) *Manager {
	return &Manager{store: store, tokens: tokens}
}

// Reconnect tries to rebind the persisted token to its player row in the
// room identified by code. Failures are silent by design: the caller gets
// false and starts fresh, never an error surface.
func (m *Manager) Reconnect(ctx context.Context, code string) (*Resumed, bool) {
	playerID, ok := m.tokens.Load()
	if !ok {
		return nil, false
	}

	rm, err := m.store.GetRoomByCode(ctx, roomcode.Normalize(code))
	if err != nil {
		log.Debug().Err(err).Str("code", code).Msg("reconnect: room lookup failed")
		return nil, false
	}
	if rm.Status == models.RoomStatusEnded {
		// An ended room is not rejoinable.
		return nil, false
	}

	player, err := m.store.GetPlayer(ctx, playerID)
	if err != nil || player.RoomID != rm.ID {
		// Evicted, or the room was reset. Token is useless now.
		log.Debug().Str("player_id", playerID.String()).Msg("reconnect: player row gone, rejoin required")
		return nil, false
	}

	if err := m.store.TouchPlayer(ctx, player.ID); err != nil {
		log.Warn().Err(err).Msg("reconnect: failed to refresh heartbeat")
	}

	players, err := m.store.ListPlayers(ctx, rm.ID)
	if err != nil {
		log.Warn().Err(err).Msg("reconnect: failed to hydrate players")
		return nil, false
	}

	log.Info().
		Str("room_id", rm.ID.String()).
		Str("player_id", player.ID.String()).
		Msg("session restored")
	return &Resumed{Room: rm, Player: player, Players: players}, true
}

// Remember persists the player token after a successful create or join.
func (m *Manager) Remember(playerID uuid.UUID) error {
	return m.tokens.Save(playerID)
}

// Forget clears the token, typically after leaving a room for good.
func (m *Manager) Forget() error {
	return m.tokens.Clear()
}
