package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/iris/internal/callflow"
	"github.com/ent0n29/iris/internal/companion"
	"github.com/ent0n29/iris/internal/config"
	"github.com/ent0n29/iris/internal/history"
	"github.com/ent0n29/iris/internal/httpapi"
	"github.com/ent0n29/iris/internal/hub"
	"github.com/ent0n29/iris/internal/logging"
	"github.com/ent0n29/iris/internal/notification"
	"github.com/ent0n29/iris/internal/observability"
	"github.com/ent0n29/iris/internal/pairing"
	"github.com/ent0n29/iris/internal/speech"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("iris stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	ctx := context.Background()
	historyStore, err := history.NewStore(ctx, history.Options{
		DatabaseURL:   cfg.DatabaseURL,
		RedisURL:      cfg.RedisURL,
		RedisPassword: cfg.RedisPassword,
		Capacity:      cfg.HistoryLimit,
	})
	if err != nil {
		return fmt.Errorf("call history init: %w", err)
	}
	defer historyStore.Close()
	logger.Info("call history ready", zap.String("mode", history.Mode(historyStore)))

	converter, err := newConverter(cfg)
	if err != nil {
		return err
	}
	logger.Info("speech provider ready",
		zap.String("provider", cfg.SpeechProvider),
		zap.String("framing", cfg.SpeechFraming),
	)

	registry := pairing.NewRegistry(cfg.PairingTimeout)
	registry.SetSizeHook(metrics.SetPendingCalls)

	hubRouter := hub.NewRouter(hub.Options{
		Logger:         logger,
		Metrics:        metrics,
		AllowAnyOrigin: cfg.AllowAnyOrigin,
		IntentURI:      cfg.IntentURI,
		IntentPackage:  cfg.IntentPackage,
	})

	notifications := notification.NewStore(hubRouter)
	notifications.SetSizeHook(metrics.SetStoredNotifications)

	calls := callflow.New(registry, hubRouter, converter, callflow.Options{
		Logger:        logger,
		Metrics:       metrics,
		History:       historyStore,
		ServerURL:     cfg.ServerURL,
		Language:      cfg.SpeechLanguage,
		RetryAttempts: cfg.SpeechRetryAttempts,
	})
	callflow.Bind(hubRouter, calls, notifications)

	companionServer := companion.NewServer(registry, companion.Options{
		Logger:         logger,
		AllowAnyOrigin: cfg.AllowAnyOrigin,
		ReadLimit:      cfg.CompanionMaxMsg,
	})

	admin := httpapi.New(cfg, httpapi.Deps{
		Hub:           hubRouter,
		Pending:       registry,
		Calls:         calls,
		History:       historyStore,
		Notifications: notifications,
		Metrics:       metrics,
		Logger:        logger,
	})

	servers := []*http.Server{
		{Addr: ":" + strconv.Itoa(cfg.APIPort), Handler: hubRouter.Routes()},
		{Addr: ":" + strconv.Itoa(cfg.ClientPort), Handler: companionServer.Routes()},
		{Addr: cfg.AdminBindAddr, Handler: admin.Router()},
	}
	names := []string{"hub", "companion", "admin"}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		srv.ReadHeaderTimeout = 10 * time.Second
		name := names[i]
		go func() {
			logger.Info("server listening", zap.String("server", name), zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s listen: %w", name, err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	hubRouter.Close()
	if err := calls.Shutdown(shutdownCtx); err != nil {
		logger.Warn("call shutdown incomplete", zap.Error(err))
	}
	for i, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.String("server", names[i]), zap.Error(err))
			_ = srv.Close()
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

func newConverter(cfg config.Config) (speech.Converter, error) {
	if cfg.SpeechProvider == "mock" {
		return speech.NewMockConverter(), nil
	}
	framing, err := speech.ParseFraming(cfg.SpeechFraming)
	if err != nil {
		return nil, err
	}
	return speech.NewWyomingClient(speech.WyomingConfig{
		WhisperAddr: cfg.WhisperAddr(),
		PiperAddr:   cfg.PiperAddr(),
		Timeout:     cfg.SpeechTimeout,
		Framing:     framing,
	}), nil
}
