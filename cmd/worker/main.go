package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/movehive/voicedesk/external/audio"
	configloader "github.com/movehive/voicedesk/external/config"
	repositoryimpl "github.com/movehive/voicedesk/external/repository"
	roombackendimpl "github.com/movehive/voicedesk/external/roombackend"
	transcriberimpl "github.com/movehive/voicedesk/external/transcriber"
	webhookimpl "github.com/movehive/voicedesk/external/webhook"
	"github.com/movehive/voicedesk/internal/config"
	"github.com/movehive/voicedesk/internal/roombackend"
	"github.com/movehive/voicedesk/internal/session"
	"github.com/samber/do/v2"
)

const (
	backendConnectTimeout = 20 * time.Second
	recoveryTimeout       = 60 * time.Second
	shutdownTimeout       = 45 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching session worker")
	runWorker(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.LoadWorker()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	roombackendimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func runWorker(injector do.Injector) {
	backend, err := do.Invoke[roombackend.Client](injector)
	if err != nil {
		slog.Error("failed to resolve room backend client", "error", err)
		os.Exit(1)
	}
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), backendConnectTimeout)
	defer cancelConnect()
	slog.Info("startup: connecting to room backend")
	if err := backend.Connect(connectCtx); err != nil {
		slog.Error("room backend connect failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("room backend close failed", "error", err)
		}
	}()

	// recovery must finish before a single callback is handled: the store
	// is ground truth and resumed sessions continue their sequence numbers
	recoveryCtx, cancelRecovery := context.WithTimeout(context.Background(), recoveryTimeout)
	defer cancelRecovery()
	slog.Info("startup: reconciling persisted sessions")
	if err := manager.Reconcile(recoveryCtx); err != nil {
		slog.Error("startup reconciliation failed", "error", err)
		os.Exit(1)
	}

	backend.RegisterCallbackHandler(manager.HandleCallback)
	backend.RegisterAudioHandler(manager.HandleAudio)
	slog.Info("room backend handlers registered")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down: draining live sessions")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	manager.Shutdown(shutdownCtx)
	slog.Info("shutdown complete")
}
