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

	"github.com/joho/godotenv"
	"github.com/shinyyama/estate-chat/internal/applog"
	"github.com/shinyyama/estate-chat/internal/config"
	"github.com/shinyyama/estate-chat/internal/db"
	"github.com/shinyyama/estate-chat/internal/identity"
	"github.com/shinyyama/estate-chat/internal/server"
	"github.com/shinyyama/estate-chat/internal/service"
)

// profileCacheTTL bounds how stale a display name in chat lists can be.
const profileCacheTTL = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("server.exit", "err", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := applog.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(conn); err != nil {
		return err
	}

	auth, users, err := buildIdentity(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Deps{
		DB:    conn,
		Auth:  auth,
		Users: users,
		Log:   log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server.shutdown", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if sqlDB, err := conn.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

func buildIdentity(ctx context.Context, cfg *config.Config, log *slog.Logger) (*identity.Authenticator, service.UserDirectory, error) {
	switch cfg.AuthMode {
	case config.AuthModeHeader:
		log.Warn("auth.mode.header", "msg", "trusting X-User-ID; never run this mode in production")
		return identity.NewAuthenticator(cfg.AuthMode, identity.HeaderVerifier{}), identity.NewLocalDirectory(), nil
	case config.AuthModeFirebase:
		fb, err := identity.NewFirebase(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("init firebase: %w", err)
		}
		return identity.NewAuthenticator(cfg.AuthMode, fb), identity.NewCachedDirectory(fb, profileCacheTTL), nil
	}
	return nil, nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode)
}
