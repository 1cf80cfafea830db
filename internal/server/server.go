// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package server wires configuration, storage and the HTTP boundary together.
package server

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

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/oxidelink/oxidelink/internal/config"
	"github.com/oxidelink/oxidelink/internal/database"
	"github.com/oxidelink/oxidelink/internal/handlers"
	"github.com/oxidelink/oxidelink/internal/linking"
	"github.com/oxidelink/oxidelink/internal/notify"
	"github.com/oxidelink/oxidelink/internal/permissions"
	"github.com/oxidelink/oxidelink/internal/ratelimit"
	"github.com/oxidelink/oxidelink/internal/registry"
	"github.com/oxidelink/oxidelink/internal/repository"
)

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"database", cfg.Database.DSN,
		"permissions_path", cfg.Permissions.Path,
		"permission", cfg.Linking.Permission,
		"code_ttl", cfg.Linking.CodeTTL,
	)

	// Database
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	repo := repository.New(db)

	// Code registry with optional background sweep
	codes := registry.New(cfg.Linking.CodeTTL)
	done := make(chan struct{})
	defer close(done)
	if cfg.Linking.SweepInterval > 0 {
		go codes.RunSweeper(done, cfg.Linking.SweepInterval)
	}

	// Permission store
	perms := permissions.NewFileStore(cfg.Permissions.Path)

	// Notifier
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL)
	}

	// Rate limiter, shared via Redis when configured
	limiter, err := buildLimiter(&cfg.RateLimit)
	if err != nil {
		return err
	}

	service := linking.NewService(codes, repo, perms, notifier, limiter, cfg.Linking.Permission)

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e, cfg)
	setupRoutes(e, service)

	return startWithGracefulShutdown(e, cfg)
}

func buildLimiter(cfg *config.RateLimitConfig) (ratelimit.Limiter, error) {
	if cfg.IssuePerMinute <= 0 {
		return ratelimit.Unlimited{}, nil
	}
	if cfg.RedisURL == "" {
		return ratelimit.NewMemory(cfg.IssuePerMinute), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return ratelimit.NewRedis(client, cfg.IssuePerMinute, time.Minute, "oxidelink:issue"), nil
}

func setupRoutes(e *echo.Echo, service *linking.Service) {
	h := handlers.New(service)

	e.GET("/health", h.Health)

	api := e.Group("/api")
	api.POST("/link", h.IssueCode)
	api.POST("/verify", h.Verify)
	api.GET("/check/:gameID", h.CheckGame)
	api.GET("/status/:chatID", h.CheckChat)
	api.POST("/grant/:gameID", h.RetryGrant)
	api.DELETE("/access/:gameID", h.RevokeAccess)
	api.DELETE("/link/:chatID", h.Unlink)
}

func startWithGracefulShutdown(e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("server running", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
