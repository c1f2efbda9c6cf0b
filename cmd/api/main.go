package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"github.com/carelinkhq/carelink/backend/internal/auth"
	"github.com/carelinkhq/carelink/backend/internal/config"
	"github.com/carelinkhq/carelink/backend/internal/gateway"
	"github.com/carelinkhq/carelink/backend/internal/handler"
	callhandler "github.com/carelinkhq/carelink/backend/internal/handler/call"
	chathandler "github.com/carelinkhq/carelink/backend/internal/handler/chat"
	"github.com/carelinkhq/carelink/backend/internal/handler/ws"
	callservice "github.com/carelinkhq/carelink/backend/internal/service/call"
	"github.com/carelinkhq/carelink/backend/internal/service/messaging"
	"github.com/carelinkhq/carelink/backend/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the server lifecycle, so every
// defer (database close, timer cleanup) executes before the process exits.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()

	db, err := badger.Open(badger.DefaultOptions(cfg.BadgerPath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("closing BadgerDB")
		_ = db.Close()
	}()

	messageStore := store.NewMessageStore(db, log, cfg.PageSize)
	callStore := store.NewCallStore(db, log, cfg.PageSize)

	registry := gateway.NewRegistry(log)
	messagingSvc := messaging.NewService(messageStore, registry, log)
	callManager := callservice.NewManager(callStore, registry, messagingSvc, cfg.RingTimeout, log)
	defer callManager.Stop()
	if err := callManager.Recover(); err != nil {
		return fmt.Errorf("call session recovery failed: %w", err)
	}

	// A user's last connection dropping cancels any session still ringing
	// for them.
	registry.OnOffline(callManager.HandlePresenceLost)

	authenticator := auth.New(cfg.JWTSecret, cfg.TokenTTL)
	wsHandler := ws.New(authenticator, registry, messagingSvc, callManager,
		cfg.Origins(), cfg.ConnectionBufferSize, cfg.DeliveryTimeout, log)

	router := handler.NewRouter(authenticator, wsHandler,
		chathandler.New(messagingSvc), callhandler.New(callManager),
		cfg.Origins(), log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("carelink gateway listening", "addr", cfg.Addr)
	return runServer(ctx, srv, log)
}

func runServer(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return <-errCh
}
