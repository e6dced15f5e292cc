// Package housekeeping removes abandoned rooms. These are coarse policies,
// not real-time invariants: the cleaner is idempotent and safe to run
// concurrently with live traffic or a second cleaner instance.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Store is what the cleaner needs from the room repository.
type Store interface {
	DeleteIdleEmptyRooms(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEndedRooms(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes the cleanup windows.
type Config struct {
	Interval    time.Duration // how often the cleaner runs
	EmptyAfter  time.Duration // empty rooms older than this are deleted
	EndedAfter  time.Duration // ended rooms older than this are deleted
}

func DefaultConfig() Config {
	return Config{
		Interval:   10 * time.Minute,
		EmptyAfter: time.Hour,
		EndedAfter: 24 * time.Hour,
	}
}

// Cleaner periodically deletes stale rooms.
type Cleaner struct {
	store Store
	clock clockwork.Clock
	cfg   Config
}

func NewCleaner(store Store, clock clockwork.Clock, cfg Config) *Cleaner {
	return &Cleaner{store: store, clock: clock, cfg: cfg}
}

// Run loops until ctx ends, cleaning once per interval.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	// Clean immediately on start.
	if err := c.CleanOnce(ctx); err != nil {
		log.Error().Err(err).Msg("initial cleanup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := c.CleanOnce(ctx); err != nil {
				log.Error().Err(err).Msg("cleanup failed")
			}
		}
	}
}

// CleanOnce performs a single cleanup pass.
func (c *Cleaner) CleanOnce(ctx context.Context) error {
	now := c.clock.Now()

	empty, err := c.store.DeleteIdleEmptyRooms(ctx, now.Add(-c.cfg.EmptyAfter))
	if err != nil {
		return fmt.Errorf("failed to delete empty rooms: %w", err)
	}
	ended, err := c.store.DeleteEndedRooms(ctx, now.Add(-c.cfg.EndedAfter))
	if err != nil {
		return fmt.Errorf("failed to delete ended rooms: %w", err)
	}

	if empty > 0 || ended > 0 {
		log.Info().Int64("empty_rooms", empty).Int64("ended_rooms", ended).Msg("cleaned up stale rooms")
	}
	return nil
}
