// syncd runs the podcast-sync event-sourcing core: the command dispatcher
// (C4), the projection pipeline (C5), the process manager (C6), and the
// compaction worker (C7), fronted by a thin ops HTTP surface.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/podsync/syncd/internal/api"
	"github.com/podsync/syncd/internal/compaction"
	"github.com/podsync/syncd/internal/config"
	"github.com/podsync/syncd/internal/database"
	"github.com/podsync/syncd/internal/dispatcher"
	"github.com/podsync/syncd/internal/eventlog"
	"github.com/podsync/syncd/internal/events"
	"github.com/podsync/syncd/internal/processmanager"
	"github.com/podsync/syncd/internal/projection"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to postgres", "database", cfg.Database.Database)

	store := eventlog.New(dbClient.DB())

	projectionWake := make(chan struct{}, 1)
	processManagerWake := make(chan struct{}, 1)

	connManager := events.NewConnectionManager(store, 5*time.Second)

	listener := events.NewListener(cfg.Database.DSN())
	listener.OnNotify(func(n events.Notification) {
		notifyWake(projectionWake)
		notifyWake(processManagerWake)

		rec, err := store.RecordAtPosition(ctx, n.GlobalPosition)
		if err != nil {
			slog.Error("failed to load notified record for broadcast", "global_position", n.GlobalPosition, "error", err)
			return
		}
		connManager.Broadcast(n, rec.Payload)
	})
	if err := listener.Start(ctx); err != nil {
		slog.Error("failed to start event listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(context.Background())

	publisher := &wakePublisher{wakes: []chan struct{}{projectionWake, processManagerWake}}
	d := dispatcher.New(store, publisher, cfg.Dispatcher)

	pipeline := projection.New(dbClient.DB(), store, projection.Config{
		BatchSize:  cfg.Projection.BatchSize,
		MaxRetries: cfg.Projection.MaxRetries,
		PollEvery:  cfg.Projection.PollEvery,
	},
		projection.SubscriptionsProjector{},
		projection.PlayStatusesProjector{},
		projection.PlaylistsProjector{},
		projection.UserPrivacyProjector{},
		projection.CollectionsProjector{},
		projection.NewPublicActivityProjector(store),
	)
	go pipeline.Run(ctx, projectionWake)

	pm := processmanager.New(dbClient.DB(), store, d, processmanager.Config{
		BatchSize: cfg.Projection.BatchSize,
		PollEvery: cfg.Projection.PollEvery,
	})
	go pm.Run(ctx, processManagerWake)

	compactionSvc := compaction.New(dbClient.DB(), d, store, compaction.Config{
		Interval:        cfg.Compaction.Interval,
		CheckpointAfter: cfg.Retention.CheckpointAfter,
		PruneAfter:      cfg.Retention.PruneAfter,
	})
	compactionSvc.Start(ctx)
	defer compactionSvc.Stop()

	server := api.NewServer(dbClient.DB(), d, pipeline, connManager)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: server.Router()}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
}

// wakePublisher wakes local consumer loops the instant a command is
// appended, ahead of the NOTIFY round trip — the low-latency half of the
// poll-or-NOTIFY hybrid that projection.Pipeline.Run and
// processmanager.Handler.Run implement with their ticker-plus-wake loops.
type wakePublisher struct {
	wakes []chan struct{}
}

func (p *wakePublisher) Publish(_ string, _ eventlog.Record) {
	for _, ch := range p.wakes {
		notifyWake(ch)
	}
}

func notifyWake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
