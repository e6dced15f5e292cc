package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jdorel/blindtest/internal/dbconfig"
	"github.com/jdorel/blindtest/internal/feed"
	"github.com/jdorel/blindtest/internal/gateway"
	"github.com/jdorel/blindtest/internal/room"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg := loadGatewayConfig()
	natsURL := getEnv("NATS_URL", cfg.NATS.URL)
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

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Str("port", cfg.Server.Port).
		Msg("starting room gateway")

	repo := room.NewRepository(pool)
	app := room.NewApp(repo)

	consumerCfg := feed.DefaultConsumerConfig()
	consumerCfg.URL = natsURL
	consumer, err := feed.NewConsumer(consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create feed consumer")
	}
	defer consumer.Close()

	service := gateway.NewService(app, repo, consumer, cfg.ConnectionConfigFrom(), clockwork.NewRealClock())
	go service.Start(ctx)

	server := setupServer(cfg, service.Router())

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	time.Sleep(1 * time.Second)
	log.Info().Msg("gateway shutdown complete")
}

func setupServer(cfg *gateway.Config, router chi.Router) *http.Server {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	handler := c.Handler(router)

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}
}

func loadGatewayConfig() *gateway.Config {
	path := getEnv("GATEWAY_CONFIG", "")
	if path == "" {
		return gateway.DefaultGatewayConfig()
	}
	cfg, err := gateway.LoadConfig(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("failed to load gateway config")
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
