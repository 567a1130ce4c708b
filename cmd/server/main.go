// Command server runs the pulse status-and-alerting engine: it wires the
// Configuration Cache, Pulse Store, Status Evaluator, Missing-Pulse
// Detector, Notification Dispatcher, Aggregation Job, Self-Monitor and
// Realtime Broadcaster together behind the HTTP/WebSocket transport (§6).
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/projecthelena/pulsewarden/internal/aggregate"
	"github.com/projecthelena/pulsewarden/internal/api"
	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/logging"
	"github.com/projecthelena/pulsewarden/internal/missing"
	"github.com/projecthelena/pulsewarden/internal/notify"
	"github.com/projecthelena/pulsewarden/internal/pulsestore"
	"github.com/projecthelena/pulsewarden/internal/realtime"
	"github.com/projecthelena/pulsewarden/internal/selfmonitor"
	"github.com/projecthelena/pulsewarden/internal/status"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logging.New("server")

	cacheMgr, err := cache.NewManager(config.Path())
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	cfg := cacheMgr.Current().Document()

	store, err := db.NewStore(db.Config{
		Type: cfg.Database.Type,
		Path: cfg.Database.Path,
		URL:  cfg.Database.URL,
	})
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := notify.NewService(cacheMgr)
	notifier.Start(ctx)

	evaluator := status.New(store, cacheMgr, cfg.Detector.GracePeriod, notifier)
	detector := missing.New(cacheMgr, evaluator.StatusCache(), notifier, cfg.Detector.GracePeriod, cfg.Detector.CheckInterval)

	hub := realtime.NewHub(cacheMgr)
	evaluator.SetBroadcaster(hub)

	// A reload can add monitors, change intervals, or rewire groups, so
	// every monitor is re-enqueued for recompute and live subscribers get a
	// reload notice to re-fetch (§4.1: "recomputes every monitor's status,
	// and notifies live subscribers").
	cacheMgr.Subscribe(func(next *cache.Cache) {
		for _, m := range next.MonitorsByLevelAscending() {
			evaluator.Queue().Enqueue(m.ID)
		}
		hub.BroadcastReload(time.Now())
	})

	pulses := pulsestore.NewService(store, cacheMgr, evaluator.Queue(), detector, hub, cfg.PulseStore)

	aggJob := aggregate.New(store, cacheMgr, cfg.Aggregation)
	selfMon := selfmonitor.New(store, cacheMgr, detector, evaluator.Queue(), cfg.SelfMonitor)

	go evaluator.Run(ctx)
	go detector.Run(ctx)
	go pulses.Run(ctx)
	go aggJob.Run(ctx)
	go selfMon.Run(ctx)

	router := api.NewRouter(api.Deps{
		CacheMgr:  cacheMgr,
		Store:     store,
		Pulses:    pulses,
		Evaluator: evaluator,
		Detector:  detector,
		Hub:       hub,
	})

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Printf("listening on %s", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("forced shutdown: %v", err)
	}
	pulses.Flush()
	logger.Println("exited")
}
