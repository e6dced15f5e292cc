package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/jdorel/blindtest/internal/dbconfig"
	"github.com/jdorel/blindtest/internal/feed"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	dbCfg := dbconfig.NewConfigFromEnv()

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Msg("starting feed relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher, err := feed.NewJetStreamPublisher(ctx, natsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create feed publisher")
	}
	defer publisher.Close()

	relayCfg := feed.DefaultRelayConfig()
	relayCfg.DatabaseURL = dbCfg.DSN()

	relay, err := feed.NewRelay(db, publisher, relayCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create feed relay")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := relay.Start(ctx); err != nil {
		log.Error().Err(err).Msg("feed relay stopped with error")
	}
	log.Info().Msg("feed relay shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
