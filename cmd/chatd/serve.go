package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/auth"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/chat"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/config"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore/mongodb"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/gateway"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/metrics"
)

func newServeCommand() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "load environment from this file before reading configuration")
	return cmd
}

func runServe(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx := context.Background()

	var svc docstore.Service
	switch cfg.Store {
	case config.StoreMongo:
		store, err := mongodb.New(ctx, mongodb.Config{
			URI:          cfg.MongoURI,
			Database:     cfg.MongoDatabase,
			PollInterval: cfg.PollInterval,
		}, log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}()
		if err := store.EnsureIndexes(ctx, chat.Indexes()); err != nil {
			return err
		}
		svc = store
	default:
		mem := docstore.NewMemory()
		defer mem.Close()
		svc = mem
		log.Warn().Msg("using the in-memory store, data is not persisted")
	}

	collector := metrics.NewPrometheusCollector("chatd")
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
	gw := gateway.New(svc, chat.NewStore(svc), jwtManager, collector, gateway.Config{
		WindowSize:         cfg.WindowSize,
		CacheCapacity:      cfg.CacheCapacity,
		RosterLimit:        cfg.RosterLimit,
		ReadDebounce:       cfg.ReadDebounce,
		MaxSessionsPerUser: cfg.MaxSessionsPerUser,
		SendPerMinute:      cfg.SendPerMinute,
		SendBurst:          cfg.SendBurst,
	}, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("chat server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	// WebSocket connections are hijacked from the HTTP server; the gateway
	// closes them itself.
	gw.Shutdown()
	return nil
}
