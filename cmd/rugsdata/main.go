package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rugslab/rugs-data-service/internal/api"
	"github.com/rugslab/rugs-data-service/internal/broadcast"
	"github.com/rugslab/rugs-data-service/internal/config"
	"github.com/rugslab/rugs-data-service/internal/router"
	"github.com/rugslab/rugs-data-service/internal/schema"
	"github.com/rugslab/rugs-data-service/internal/store"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
	"github.com/rugslab/rugs-data-service/internal/tracker"
	"github.com/rugslab/rugs-data-service/internal/upstream"
	"github.com/rugslab/rugs-data-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.Init(telemetry.ParseLogLevel("info"))
		telemetry.Errorf("config: %v", err)
		os.Exit(1)
	}
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting rugs data service")

	// ── Document store ──────────────────────────────────────────
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Open(startCtx, cfg.MongoURL, cfg.DBName, store.Options{
		Timeout:         cfg.StoreTimeout,
		SnapshotTTLDays: cfg.SnapshotTTLDays,
		EventTTLDays:    cfg.EventTTLDays,
		TicksTTLDays:    cfg.TicksTTLDays,
	})
	if err != nil {
		startCancel()
		telemetry.Errorf("store: %v", err)
		os.Exit(1)
	}
	if err := st.EnsureIndexes(startCtx); err != nil {
		startCancel()
		telemetry.Errorf("store indexes: %v", err)
		os.Exit(1)
	}
	startCancel()
	telemetry.Infof("Store connected  db=%s", cfg.DBName)

	// ── Canonical schemas ───────────────────────────────────────
	reg, err := schema.Load()
	if err != nil {
		telemetry.Errorf("schemas: %v", err)
		os.Exit(1)
	}
	telemetry.Infof("Loaded %d canonical schemas", len(reg.List()))

	// ── Pipeline ────────────────────────────────────────────────
	pool := worker.NewPool(cfg.PersistWorkers, cfg.PersistQueueSize, cfg.StoreTimeout)
	pool.Start()

	hub := broadcast.NewHub(cfg.SubscriberBuffer, cfg.HeartbeatInterval, func(origin string) bool {
		for _, o := range cfg.CORSOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	})
	go hub.Run()

	tr := tracker.New(st, pool, hub)

	up := upstream.NewClient(upstream.Options{
		URL:           cfg.UpstreamURL,
		MaxReconnects: cfg.MaxReconnects,
		BackoffMin:    cfg.BackoffMin,
		BackoffMax:    cfg.BackoffMax,
		QueueSize:     cfg.RawQueueSize,
	}, st, pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go up.Run(ctx)

	rt := router.New(up.Frames(), reg, st, pool, tr, hub)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		rt.Run(ctx)
	}()

	// ── HTTP surface ────────────────────────────────────────────
	srv := api.NewServer(cfg.ListenAddress, st, tr, up, hub, reg, cfg.CORSOrigins, cfg.VerifyWorkers)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			telemetry.Errorf("api: %v", err)
			os.Exit(1)
		}
	}()

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")
	cancel()

	// Upstream closes its frame channel on exit; wait for the router
	// to finish dispatching what it already pulled.
	select {
	case <-routerDone:
	case <-time.After(5 * time.Second):
	}

	pool.Stop(cfg.DrainTimeout)
	hub.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	st.Close(shutdownCtx)

	telemetry.Infof("Shutdown complete  messages=%d  trades=%d  games=%d  dropped=%d",
		telemetry.Metrics.MessagesProcessed.Value(),
		telemetry.Metrics.TradesStored.Value(),
		telemetry.Metrics.GamesTracked.Value(),
		telemetry.Metrics.UpstreamDropped.Value(),
	)
}
