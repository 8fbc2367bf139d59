package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/gemini-chat/internal/chat"
	"github.com/MegaGrindStone/gemini-chat/internal/handlers"
	"github.com/MegaGrindStone/gemini-chat/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfgPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0755); err != nil {
		return fmt.Errorf("error creating store directory: %w", err)
	}
	boltDB, err := services.NewBoltDB(cfg.StorePath)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	upstream, err := cfg.Upstream.upstream(logger)
	if err != nil {
		return fmt.Errorf("error creating upstream: %w", err)
	}
	httpOpts := cfg.Upstream.httpOptions()
	if httpOpts.InsecureSkipVerify {
		logger.Warn("TLS certificate verification of the upstream provider is disabled")
	}

	var transport chat.Transport = upstream
	if cfg.Client.Mode == clientModeProxy {
		transport = services.NewRelayClient(cfg.Client.RelayURL, services.NewHTTPClient(httpOpts))
		logger.Info("Chat page uses relay", slog.String("relayURL", cfg.Client.RelayURL))
	}

	sessions := chat.NewRegistry(transport, boltDB, logger)

	evictCtx, stopEviction := context.WithCancel(context.Background())
	defer stopEviction()
	go sessions.RunEviction(evictCtx, sessionSweepInterval, cfg.SessionTTL)

	m, err := handlers.NewMain(upstream, sessions, logger, handlers.Options{
		Store:       boltDB,
		TurnTimeout: cfg.TurnTimeout,
	})
	if err != nil {
		return err
	}

	router, err := handlers.NewRouter(m, cfg.CORSOrigins, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("env", cfg.Env))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
	}

	return nil
}

const sessionSweepInterval = 5 * time.Minute

func newLogger(cfg config) (*slog.Logger, error) {
	level, err := cfg.logLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Env == envProduction {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

func defaultConfigPath() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cfgDir, "geminichat", "config.yaml")
}
