// Package presence keeps players' heartbeats fresh and evicts the ones that
// went silent, handing host authority over before a host row is removed.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jdorel/blindtest/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Store is what the tracker needs from the room repository.
type Store interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error)
	DeletePlayer(ctx context.Context, id uuid.UUID) error
	TouchPlayer(ctx context.Context, id uuid.UUID) error
	ReassignHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) (bool, error)
}

// Config tunes heartbeat and eviction behavior.
type Config struct {
	HeartbeatInterval time.Duration
	GracePeriod       time.Duration
	ReassignAttempts  int
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 20 * time.Second,
		GracePeriod:       75 * time.Second,
		ReassignAttempts:  3,
	}
}

// Tracker runs a client's own heartbeat and the host-driven sweep.
type Tracker struct {
	store Store
	clock clockwork.Clock
	cfg   Config
}

func NewTracker(store Store, clock clockwork.Clock, cfg Config) *Tracker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultConfig().GracePeriod
	}
	if cfg.ReassignAttempts <= 0 {
		cfg.ReassignAttempts = DefaultConfig().ReassignAttempts
	}
	return &Tracker{store: store, clock: clock, cfg: cfg}
}

// RunHeartbeat refreshes the player's last-seen timestamp until ctx ends.
// A missed write is logged and retried on the next tick; the grace period
// absorbs transient failures.
func (t *Tracker) RunHeartbeat(ctx context.Context, playerID uuid.UUID) {
	ticker := t.clock.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := t.store.TouchPlayer(ctx, playerID); err != nil {
				log.Warn().Err(err).Str("player_id", playerID.String()).Msg("heartbeat write failed")
			}
		}
	}
}

// SweepRoom evicts players whose last heartbeat is older than the grace
// period. The sole remaining player is never evicted, and a host is only
// removed after authority was handed to the earliest-joined survivor.
func (t *Tracker) SweepRoom(ctx context.Context, roomID uuid.UUID) (int, error) {
	players, err := t.store.ListPlayers(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("failed to list players for sweep: %w", err)
	}

	cutoff := t.clock.Now().Add(-t.cfg.GracePeriod)
	evicted := 0

	for _, p := range players {
		if !p.LastSeenAt.Before(cutoff) {
			continue
		}
		remaining := livePlayerCount(players, evicted)
		if remaining <= 1 {
			// Sole remaining player stays; housekeeping owns empty rooms.
			break
		}

		if p.IsHost {
			if err := t.reassignHost(ctx, roomID, p, players); err != nil {
				log.Error().Err(err).Str("room_id", roomID.String()).Msg("host reassignment failed, keeping host")
				continue
			}
		}

		if err := t.store.DeletePlayer(ctx, p.ID); err != nil {
			log.Error().Err(err).Str("player_id", p.ID.String()).Msg("failed to evict player")
			continue
		}
		evicted++
		log.Info().
			Str("room_id", roomID.String()).
			Str("player_id", p.ID.String()).
			Str("nickname", p.Nickname).
			Msg("evicted stale player")
	}
	return evicted, nil
}

func livePlayerCount(players []models.Player, evicted int) int {
	return len(players) - evicted
}

// reassignHost hands authority to the earliest-joined survivor via
// read-then-compare-and-write, retried when a concurrent writer won.
func (t *Tracker) reassignHost(ctx context.Context, roomID uuid.UUID, leaving models.Player, players []models.Player) error {
	successor, ok := earliestSurvivor(players, leaving.ID)
	if !ok {
		return fmt.Errorf("no successor available")
	}

	for attempt := 0; attempt < t.cfg.ReassignAttempts; attempt++ {
		rm, err := t.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if rm.HostID != leaving.ID {
			// Someone else already moved the host.
			return nil
		}
		ok, err := t.store.ReassignHost(ctx, roomID, leaving.ID, successor.ID)
		if err != nil {
			return err
		}
		if ok {
			log.Info().
				Str("room_id", roomID.String()).
				Str("new_host_id", successor.ID.String()).
				Msg("host reassigned")
			return nil
		}
	}
	return fmt.Errorf("compare-and-write lost %d times", t.cfg.ReassignAttempts)
}

func earliestSurvivor(players []models.Player, leavingID uuid.UUID) (models.Player, bool) {
	var best models.Player
	found := false
	for _, p := range players {
		if p.ID == leavingID {
			continue
		}
		if !found || p.JoinedAt.Before(best.JoinedAt) {
			best = p
			found = true
		}
	}
	return best, found
}
