package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"proupgrade-backend/internal/config"
	"proupgrade-backend/internal/domain"
	"proupgrade-backend/internal/env"
	"proupgrade-backend/internal/infrastructure/repo"
	"proupgrade-backend/internal/infrastructure/telegram"
	"proupgrade-backend/internal/infrastructure/webhook"
	"proupgrade-backend/internal/server"
	"proupgrade-backend/internal/usecase"
)

// transactionLog is what the process needs from either log implementation.
type transactionLog interface {
	server.TransactionWriter
	usecase.TransactionFinder
	Subscribe(ctx context.Context) (<-chan domain.Transaction, error)
}

func main() {
	if _, err := env.Load(".env", ".env.local"); err != nil {
		slog.Error("failed to load env files", "error", err)
		os.Exit(1)
	}
	envDefaults, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	envName := flag.String("env", envDefaults.Env, "environment name")
	port := flag.Int("port", envDefaults.Port, "HTTP port")
	logJSON := flag.Bool("log-json", envDefaults.LogJSON, "log as JSON")
	databaseURL := flag.String("database-url", envDefaults.DatabaseURL, "transaction log database URL")
	flag.Parse()

	cfg := envDefaults
	cfg.Env = *envName
	cfg.Port = *port
	cfg.LogJSON = *logJSON
	cfg.DatabaseURL = *databaseURL
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg)
	b, _ := json.Marshal(cfg)
	slog.Info("config loaded", "config", json.RawMessage(b), "webhook_verified", cfg.WebhookVerified())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	txlog, closeLog, err := openTransactionLog(ctx, cfg)
	if err != nil {
		slog.Error("failed to open transaction log", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	notifier, err := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.NotifyTimeout)
	if err != nil {
		slog.Error("failed to create notifier", "error", err)
		os.Exit(1)
	}

	ledger := repo.NewMemoryOrderRepo()
	orders := usecase.NewOrderService(ledger, notifier, cfg.CodeAttempts)
	engine := usecase.NewReconcileService(ledger, txlog, notifier, cfg.LookupTimeout)

	pushed, err := txlog.Subscribe(ctx)
	if err != nil {
		slog.Error("failed to subscribe to transaction log", "error", err)
		os.Exit(1)
	}
	go engine.Run(ctx, pushed)

	srv := server.New(cfg, orders, engine, txlog, webhook.New(cfg.WebhookAPIKey, cfg.WebhookHMACSecret, cfg.WebhookJWTSecret))
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Handler(),
	}

	go func() {
		slog.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	slog.Info("server stopped gracefully")
}

func setupLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "dev" {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogJSON {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func openTransactionLog(ctx context.Context, cfg config.Config) (transactionLog, func(), error) {
	if !cfg.UsesDatabase() {
		slog.Warn("no database configured, transactions are kept in memory only")
		return repo.NewMemoryTransactionLog(), func() {}, nil
	}
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.RunMigrations(cfg.DatabaseURL); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo.NewPostgresTransactionLog(pool, cfg.DatabaseURL, cfg.ListenerMinReconnect, cfg.ListenerMaxReconnect), pool.Close, nil
}
