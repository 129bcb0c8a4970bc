package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avask/ringline/internal/adapter/driven/gateway/ws"
	"github.com/avask/ringline/internal/adapter/driven/media/livekit"
	membership "github.com/avask/ringline/internal/adapter/driven/membership/memory"
	repo "github.com/avask/ringline/internal/adapter/driven/persistence/memory"
	presencemem "github.com/avask/ringline/internal/adapter/driven/presence/memory"
	presenceredis "github.com/avask/ringline/internal/adapter/driven/presence/redis"
	"github.com/avask/ringline/internal/adapter/driven/token"
	handler "github.com/avask/ringline/internal/adapter/driving/http"
	"github.com/avask/ringline/internal/config"
	"github.com/avask/ringline/internal/core/port"
	"github.com/avask/ringline/internal/core/service"
	"github.com/rs/zerolog"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()

	cfg := config.Load()

	var presence port.PresenceStore
	if cfg.RedisAddr != "" {
		store := presenceredis.NewStore(cfg.RedisAddr)
		if err := store.Ping(context.Background()); err != nil {
			l.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to reach redis")
		}
		presence = store
		l.Info().Str("addr", cfg.RedisAddr).Msg("Using redis presence store")
	} else {
		presence = presencemem.NewStore()
		l.Info().Msg("Using in-memory presence store")
	}

	hub := ws.NewHub()
	messages := repo.NewMessageRepository()
	verifier := token.NewVerifier(cfg.JWTSecret)
	admission := livekit.NewTokenService(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.URL)
	rosters := membership.NewStore()

	relay := service.NewRelay(presence, hub)
	calls := service.NewCallService(hub, messages, service.CallConfig{
		RingTimeout: cfg.RingTimeout,
		GraceWindow: cfg.GraceWindow,
	})

	h := handler.NewHandler(relay, calls, hub, verifier, admission, rosters)

	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Server exited")
}
