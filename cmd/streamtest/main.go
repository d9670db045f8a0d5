// streamtest connects to the console push endpoint and prints decoded
// events to stdout.
// Usage: go run ./cmd/streamtest --config configs/livesync.example.yaml
//
// The session token is read from api.token (CONSOLE_API_TOKEN in the
// example config).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loyaltyconsole/livesync/internal/config"
	"github.com/loyaltyconsole/livesync/internal/connection"
	"github.com/loyaltyconsole/livesync/internal/dispatch"
	"github.com/loyaltyconsole/livesync/internal/event"
)

func main() {
	configPath := flag.String("config", "configs/livesync.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event payloads")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	url, err := cfg.LiveURL()
	if err != nil {
		logger.Error("invalid live url", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dispatcher := dispatch.New(dispatch.Config{QueueSize: cfg.Live.QueueSize}, logger)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	for _, topic := range event.KnownTopics() {
		dispatcher.Subscribe(topic, printer(*verbose))
	}

	connCfg := connection.DefaultManagerConfig()
	connCfg.Backoff = connection.Backoff{
		Initial:    cfg.Live.ReconnectBaseDelay,
		Multiplier: cfg.Live.ReconnectMultiplier,
		Max:        cfg.Live.ReconnectMaxDelay,
	}
	connCfg.MaxAttempts = cfg.Live.MaxAttempts

	connMgr := connection.NewManager(connCfg, dispatcher, logger,
		connection.WithTokenSource(func() string { return cfg.API.Token }),
	)

	logger.Info("connecting", "url", url)
	connMgr.Connect(url)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := connMgr.Status()
				stats := dispatcher.Stats()
				logger.Info("stats",
					"state", status.State,
					"attempt", status.Attempt,
					"frames_received", stats.FramesReceived,
					"events_dispatched", stats.EventsDispatched,
					"decode_errors", stats.DecodeErrors,
					"unknown_topics", stats.UnknownTopics,
					"queue_len", stats.Queue.Count,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	dispatcher.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printer(verbose bool) event.Handler {
	return func(ev event.Event) error {
		if !verbose {
			fmt.Printf("[%s] %s %d bytes\n", ev.Topic, ev.ReceivedAt.Format(time.RFC3339Nano), len(ev.Payload))
			return nil
		}

		var payload map[string]any
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		fmt.Printf("[%s] %s %v\n", ev.Topic, ev.ReceivedAt.Format(time.RFC3339Nano), payload)
		return nil
	}
}
