package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/resq-tech/cpr_assist/internal/app"
	"github.com/resq-tech/cpr_assist/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config (empty = defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting cpr-assist feedback head",
		zap.String("buzzer_pin", cfg.Display.BuzzerPin),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunDisplay(ctx, cfg, logger); err != nil {
		logger.Fatal("feedback head exited with error", zap.Error(err))
	}
}
