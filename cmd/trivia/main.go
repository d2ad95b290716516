package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/victornm/etrivia/internal/app"
	"github.com/victornm/etrivia/internal/config"
)

func main() {
	c := app.DefaultConfig()
	if err := config.LoadFromEnv(&c); err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	// Logs go to stderr so they do not interleave with the game.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	a, err := app.Init(c)
	if err != nil {
		log.Fatalf("Init app failed: %v", err)
	}
	defer a.Close()

	if err := a.Run(ctx, os.Stdin, os.Stdout); err != nil {
		slog.ErrorContext(ctx, "trivia: read input failed", "error", err)
	}
}
