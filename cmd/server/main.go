package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lookouthub/lookout-server/internal/api"
	"github.com/lookouthub/lookout-server/internal/auth"
	"github.com/lookouthub/lookout-server/internal/config"
	"github.com/lookouthub/lookout-server/internal/hub"
	"github.com/lookouthub/lookout-server/internal/logging"
	"github.com/lookouthub/lookout-server/internal/models"
	"github.com/lookouthub/lookout-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	dataStore, err := store.New(cfg.Storage.DataDir, cfg.Logging.RingSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	logger := logging.New(dataStore, cfg.Logging.Level, cfg.Server.Mode != "production" && cfg.Server.Mode != "release")
	log.Logger = logger

	if cfg.Security.JWTSecret == "change-me-in-production" {
		logger.Warn().Msg("JWT_SECRET not set, using an insecure development default")
	}

	defaultTenant, ok := models.ParseTenant(cfg.DefaultTenant)
	if !ok {
		logger.Fatal().Str("tenant", cfg.DefaultTenant).Msg("invalid default tenant")
	}

	h := hub.New(dataStore, defaultTenant, cfg.Presence.TTL, cfg.Presence.SweepInterval, cfg.Frame.MinInterval)

	authenticator := auth.New(cfg.Security.JWTSecret, cfg.Security.TokenTTL, auth.DefaultAdminUsers)

	srv := api.NewServer(h, authenticator, cfg.Frame.ViewerTick)
	router := api.NewRouter(srv, logger, cfg.Security.AllowedOrigins, cfg.Server.Mode, staticDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the mjpeg stream holds the response open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("address", cfg.Server.Address).Msg("lookout hub listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
}

// staticDir returns the admin console's build directory if present, or ""
// to skip serving it — the SPA is an external collaborator this hub only
// hosts, never builds.
func staticDir() string {
	const dir = "./web/dist"
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}
