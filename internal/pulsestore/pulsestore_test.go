package pulsestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/status"
)

func newTestCacheManager(t *testing.T, toml string) *cache.Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(toml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	mgr, err := cache.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

const oneMonitorTOML = `
[[monitors]]
id = "m1"
token = "tok1"
name = "api"
interval = 30
maxRetries = 3
toleranceFactor = 1.5

[[monitors.customMetrics]]
id = "cpu"
name = "CPU"
unit = "pct"
`

func newTestService(t *testing.T, toml string) (*Service, *db.Store) {
	t.Helper()
	store, err := db.NewStore(db.NewTestConfig())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mgr := newTestCacheManager(t, toml)
	cfg := config.PulseStore{MaxBatch: 50, FlushInterval: time.Hour, MaxBufferSize: 10000}
	svc := NewService(store, mgr, status.NewQueue(), nil, nil, cfg)
	return svc, store
}

func TestSubmitUnknownTokenFails(t *testing.T) {
	svc, _ := newTestService(t, oneMonitorTOML)
	err := svc.Submit(Request{Token: "bogus"})
	if kinds.Of(err) != kinds.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestSubmitNoTimingDefaultsToNow(t *testing.T) {
	svc, store := newTestService(t, oneMonitorTOML)
	if err := svc.Submit(Request{Token: "tok1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.Flush()

	p, err := store.LatestPulse("m1")
	if err != nil {
		t.Fatalf("LatestPulse: %v", err)
	}
	if p.Latency.Valid {
		t.Errorf("expected no latency when none supplied, got %v", p.Latency)
	}
}

func TestSubmitBothStartAndEndDerivesLatency(t *testing.T) {
	svc, store := newTestService(t, oneMonitorTOML)
	now := time.Now()
	start := now.Add(-200 * time.Millisecond)
	end := now
	if err := svc.Submit(Request{Token: "tok1", StartTime: &start, EndTime: &end}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.Flush()

	p, err := store.LatestPulse("m1")
	if err != nil {
		t.Fatalf("LatestPulse: %v", err)
	}
	if !p.Latency.Valid || p.Latency.Float64 < 190 || p.Latency.Float64 > 210 {
		t.Errorf("expected latency ~200ms, got %v", p.Latency)
	}
}

func TestSubmitEndBeforeStartRejected(t *testing.T) {
	svc, _ := newTestService(t, oneMonitorTOML)
	now := time.Now()
	start := now
	end := now.Add(-time.Second)
	err := svc.Submit(Request{Token: "tok1", StartTime: &start, EndTime: &end})
	if kinds.Of(err) != kinds.BadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestSubmitLatencyOverCapIsClamped(t *testing.T) {
	svc, store := newTestService(t, oneMonitorTOML)
	over := 700000.0
	if err := svc.Submit(Request{Token: "tok1", Latency: &over}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	svc.Flush()

	p, err := store.LatestPulse("m1")
	if err != nil {
		t.Fatalf("LatestPulse: %v", err)
	}
	if !p.Latency.Valid || p.Latency.Float64 != 600000 {
		t.Errorf("expected latency clamped to 600000, got %v", p.Latency)
	}
}

func TestSubmitLatencyNonPositiveRejected(t *testing.T) {
	svc, _ := newTestService(t, oneMonitorTOML)
	bad := -5.0
	err := svc.Submit(Request{Token: "tok1", Latency: &bad})
	if kinds.Of(err) != kinds.BadRequest {
		t.Fatalf("expected BadRequest for non-positive latency, got %v", err)
	}
}

func TestSubmitEndTimeTooFarInFutureRejected(t *testing.T) {
	svc, _ := newTestService(t, oneMonitorTOML)
	future := time.Now().Add(5 * time.Minute)
	err := svc.Submit(Request{Token: "tok1", EndTime: &future})
	if kinds.Of(err) != kinds.BadRequest {
		t.Fatalf("expected BadRequest for endTime too far in the future, got %v", err)
	}
}

func TestSubmitStartTimeTooFarInPastRejected(t *testing.T) {
	svc, _ := newTestService(t, oneMonitorTOML)
	past := time.Now().Add(-time.Hour)
	latency := 50.0
	err := svc.Submit(Request{Token: "tok1", StartTime: &past, Latency: &latency})
	if kinds.Of(err) != kinds.BadRequest {
		t.Fatalf("expected BadRequest for startTime too far in the past, got %v", err)
	}
}

func TestSubmitCustomMetricStoredOnlyWhenDeclared(t *testing.T) {
	svc, store := newTestService(t, oneMonitorTOML)
	c1, c2 := 42.0, 99.0
	if err := svc.Submit(Request{Token: "tok1", Custom1: &c1, Custom2: &c2}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.Flush()

	p, err := store.LatestPulse("m1")
	if err != nil {
		t.Fatalf("LatestPulse: %v", err)
	}
	if !p.Custom1.Valid || p.Custom1.Float64 != 42.0 {
		t.Errorf("expected custom1 stored (monitor declares 1 slot), got %v", p.Custom1)
	}
	if p.Custom2.Valid {
		t.Errorf("expected custom2 dropped (monitor declares only 1 slot), got %v", p.Custom2)
	}
}

func TestSubmitEnqueuesRecomputeAndClearsMissed(t *testing.T) {
	svc, _ := newTestService(t, oneMonitorTOML)
	cleared := ""
	svc.missed = missedFunc(func(id string) { cleared = id })

	if err := svc.Submit(Request{Token: "tok1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if cleared != "m1" {
		t.Errorf("expected missed counter cleared for m1, got %q", cleared)
	}
	if ids := svc.queue.Drain(); len(ids) != 1 || ids[0] != "m1" {
		t.Errorf("expected m1 enqueued for recompute, got %v", ids)
	}
}

func TestFlushAutoTriggersAtMaxBatch(t *testing.T) {
	store, err := db.NewStore(db.NewTestConfig())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	mgr := newTestCacheManager(t, oneMonitorTOML)
	cfg := config.PulseStore{MaxBatch: 2, FlushInterval: time.Hour, MaxBufferSize: 10000}
	svc := NewService(store, mgr, status.NewQueue(), nil, nil, cfg)

	for i := 0; i < 2; i++ {
		if err := svc.Submit(Request{Token: "tok1"}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if svc.BufferLen() != 0 {
		t.Errorf("expected buffer auto-flushed at maxBatch, got len %d", svc.BufferLen())
	}
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	svc, _ := newTestService(t, oneMonitorTOML)
	svc.maxBufferSize = 2
	svc.maxBatch = 1000 // prevent auto-flush so overflow logic is exercised directly

	for i := 0; i < 5; i++ {
		svc.enqueue(db.Pulse{MonitorID: "m1", Timestamp: time.Now()})
	}
	if got := svc.BufferLen(); got != 2 {
		t.Errorf("expected buffer capped at 2, got %d", got)
	}
}

type missedFunc func(string)

func (f missedFunc) ClearMissed(id string) { f(id) }
