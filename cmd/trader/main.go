package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fapitrader/config"
	"fapitrader/internal/binance/trader"
	"fapitrader/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "💀 failed to load config: %v\n", err)
		os.Exit(1)
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "💀 failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = config.ResolveCredentials(credCtx, cfg, nil)
	cancel()
	if err != nil {
		log.Fatal("cannot start without credentials", logger.Status(logger.MarkFatal), zap.Error(err))
	}

	// run trader
	if err := trader.Run(ctx, cfg, log); err != nil {
		log.Fatal("trader failed", logger.Status(logger.MarkFatal), zap.Error(err))
	}

	log.Info("bye", logger.Status(logger.MarkExit))
}
