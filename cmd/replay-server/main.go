package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-replay/replay-server/internal/api"
	"github.com/lorawan-replay/replay-server/internal/config"
	"github.com/lorawan-replay/replay-server/internal/engine"
	"github.com/lorawan-replay/replay-server/internal/gate"
	"github.com/lorawan-replay/replay-server/internal/logstore"
	"github.com/lorawan-replay/replay-server/internal/pipeline"
	"github.com/lorawan-replay/replay-server/internal/replay"
	"github.com/lorawan-replay/replay-server/internal/sandbox"
	"github.com/lorawan-replay/replay-server/internal/scanner"
	"github.com/lorawan-replay/replay-server/internal/storage"
	"github.com/lorawan-replay/replay-server/pkg/crypto"
)

func main() {
	// Command line flags
	var (
		configFile   string
		validateOnly bool
	)
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.BoolVar(&validateOnly, "validate", false, "Validate configuration and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	} else {
		cfg = config.Default()
	}
	if validateOnly {
		fmt.Println("configuration OK")
		return
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Tokens signed with an ephemeral secret die with the process
	if cfg.JWT.Secret == "" {
		secret, err := crypto.GenerateRandomString(32)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate JWT secret")
		}
		cfg.JWT.Secret = secret
		log.Warn().Msg("JWT_SECRET not set, using an ephemeral secret")
	}

	// Open the session/decoder store
	var store storage.Store
	switch cfg.Storage.Driver {
	case "postgres":
		store, err = storage.NewPostgresStore(cfg.Storage.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		log.Info().Msg("Connected to database")
	default:
		store = storage.NewMemoryStore()
		log.Info().Msg("Using in-memory store")
	}
	defer store.Close()

	// Uploaded log files
	files, err := logstore.NewFiles(cfg.Data.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open data directory")
	}

	// Optional NATS connection for progress and audit events
	var (
		publisher replay.Publisher = replay.NopPublisher{}
		auditor   gate.Auditor     = gate.LogAuditor{}
	)
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Server.Name),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
			publisher = replay.NewNATSPublisher(nc)
			auditor = gate.NewNATSAuditor(nc)
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Wire the engines
	sb := sandbox.New(sandbox.Options{
		Timeout:       cfg.Sandbox.Timeout,
		MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
		Disabled:      cfg.Sandbox.PublicMode,
	})
	registry := sandbox.NewRegistry(store, sb)
	crypt := engine.New(store)
	replays := replay.NewEngine(replay.Options{
		DefaultDelay: time.Duration(cfg.Replay.DefaultDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Replay.MaxDelayMs) * time.Millisecond,
		JobTTL:       cfg.Replay.JobTTL,
	}, publisher)

	apiServer := api.NewRESTServer(cfg, api.Deps{
		Store:    store,
		Logs:     files,
		Scans:    scanner.NewCache(),
		Pipeline: pipeline.New(crypt, registry),
		Replays:  replays,
		Decoders: registry,
		Flags:    gate.NewFlags(cfg.Sandbox.PublicMode),
		Auditor:  auditor,
	})

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
	log.Info().Msg("Shutdown complete")
}
