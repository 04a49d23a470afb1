/*
main.go - Application entry point

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags
  2. Load YAML config with environment overrides
  3. Open the SQLite store
  4. Wire the rewards service, campaign machine, and HTTP handler
  5. Start the background scheduler and the server
  6. On SIGINT/SIGTERM: drain requests (30s), stop the scheduler,
     close the store

COMMAND-LINE FLAGS:
  -config  YAML config path (optional; defaults apply without it)
  -db      SQLite database path override (":memory:" for ephemeral)
  -port    HTTP port override

ENVIRONMENT:
  PORT, DATABASE_PATH, JWT_SECRET override both defaults and file.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/smartpicture/growth-engine/api"
	"github.com/smartpicture/growth-engine/campaign"
	"github.com/smartpicture/growth-engine/config"
	"github.com/smartpicture/growth-engine/ledger"
	"github.com/smartpicture/growth-engine/rewards"
	"github.com/smartpicture/growth-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "YAML config path")
	dbPath := flag.String("db", "", "SQLite database path override")
	port := flag.Int("port", 0, "HTTP port override")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	// Best-effort: absence of a .env file is the normal production case.
	_ = godotenv.Load()

	log := newLogger(*pretty)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration failed")
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("store initialization failed")
	}
	defer store.Close()

	rng := rewards.NewLockedRand()

	svc := rewards.NewService(store, rng)
	svc.Policy = cfg.Rewards
	svc.Levels = cfg.Levels

	machine := campaign.NewMachine(store, rng)
	machine.Mutator = svc.Mutator
	machine.Table = cfg.Campaign.Table()
	machine.HelpPoints = cfg.Campaign.HelpPoints
	machine.BonusHelpPoints = cfg.Campaign.BonusPoints

	handler := api.NewHandler(store, svc, machine, log)
	handler.ShareBaseURL = cfg.Server.ShareBaseURL

	auth := &api.Authenticator{Secret: []byte(cfg.Auth.JWTSecret)}
	router := api.NewRouter(handler, auth)

	scheduler := api.NewScheduler(svc, log)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("db", cfg.Database.Path).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}

func newLogger(pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Interface check: the SQLite store must satisfy the full engine surface.
var _ ledger.Store = (*sqlite.Store)(nil)
