package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"reverie/internal/app"
	"reverie/internal/config"
	"reverie/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("RV_CONFIG"))
	if err != nil {
		bootLog := observability.NewLogger("info", true)
		bootLog.Fatal().Err(err).Msg("config error")
	}
	log := observability.NewLogger(cfg.Log.Level, cfg.Dev.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
