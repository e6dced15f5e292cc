package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jdorel/blindtest/internal/dbconfig"
	"github.com/jdorel/blindtest/internal/housekeeping"
	"github.com/jdorel/blindtest/internal/presence"
	"github.com/jdorel/blindtest/internal/room"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	dbCfg := dbconfig.NewConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create connection pool")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().Str("database", dbCfg.Database).Msg("starting sweeper")

	repo := room.NewRepository(pool)
	clock := clockwork.NewRealClock()

	tracker := presence.NewTracker(repo, clock, presence.DefaultConfig())
	cleaner := housekeeping.NewCleaner(repo, clock, housekeeping.DefaultConfig())

	go func() {
		if err := cleaner.Run(ctx); err != nil {
			log.Error().Err(err).Msg("room cleaner stopped with error")
		}
	}()
	go runPresenceSweep(ctx, repo, tracker, clock)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cancel()
	time.Sleep(1 * time.Second)
	log.Info().Msg("sweeper shutdown complete")
}

// runPresenceSweep evicts stale players from every active room once per
// sweep interval.
func runPresenceSweep(ctx context.Context, repo *room.Repository, tracker *presence.Tracker, clock clockwork.Clock) {
	interval := 30 * time.Second
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			roomIDs, err := repo.ListActiveRoomIDs(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to list rooms for presence sweep")
				continue
			}
			for _, roomID := range roomIDs {
				if _, err := tracker.SweepRoom(ctx, roomID); err != nil {
					log.Error().Err(err).Str("room_id", roomID.String()).Msg("presence sweep failed")
				}
			}
		}
	}
}
