package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stratolabs/obmirror/internal/config"
	"github.com/stratolabs/obmirror/internal/supervisor"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("starting orderbook mirror: pairs=%v bootstrap=%s port=%d", cfg.TradingPairs, cfg.BootstrapMode, cfg.Port)

	sup := supervisor.New(cfg)
	if err := sup.Run(ctx); err != nil {
		log.Fatalf("supervisor exited: %v", err)
	}
}
