package selfmonitor

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/status"
)

type fakeMissedResetter struct {
	cleared []string
}

func (f *fakeMissedResetter) ClearMissed(monitorID string) {
	f.cleared = append(f.cleared, monitorID)
}

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
interval = 60
maxRetries = 3
toleranceFactor = 1.5
`

func newTestSelfMonitor(t *testing.T) (*SelfMonitor, *db.Store) {
	t.Helper()
	store, err := db.NewStore(db.NewTestConfig())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	mgr := newTestCacheManager(t, oneMonitorTOML)
	sm := New(store, mgr, nil, nil, config.SelfMonitor{Interval: time.Second, LatencyStrategy: "last-known"})
	return sm, store
}

func TestProbeOnceSuccessStaysUp(t *testing.T) {
	sm, _ := newTestSelfMonitor(t)
	sm.probeOnce()
	if sm.IsDown() {
		t.Error("expected self-monitor to stay up after a successful healthcheck")
	}
}

func TestProbeOnceFailureTransitionsDown(t *testing.T) {
	sm, store := newTestSelfMonitor(t)
	_ = store.Close() // force Healthcheck to fail
	sm.probeOnce()
	if !sm.IsDown() {
		t.Error("expected self-monitor to be down after a failed healthcheck")
	}
}

func TestRecoveryBackfillsMonitorWithPriorPulse(t *testing.T) {
	sm, store := newTestSelfMonitor(t)
	now := time.Now().Truncate(time.Minute)
	sm.now = func() time.Time { return now }

	outageStart := now.Add(-2 * time.Minute)
	lastKnown := outageStart.Add(-30 * time.Second) // inside [outageStart-2*interval, outageStart)
	if err := store.InsertPulseBatch([]db.Pulse{
		{MonitorID: "m1", Timestamp: lastKnown, Latency: sql.NullFloat64{Float64: 42, Valid: true}},
	}); err != nil {
		t.Fatalf("InsertPulseBatch: %v", err)
	}

	sm.mu.Lock()
	sm.down = true
	sm.downStart = outageStart
	sm.mu.Unlock()

	sm.runBackfill(outageStart, now)

	rows, err := store.PulsesInRange("m1", outageStart.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("PulsesInRange: %v", err)
	}
	var synthCount int
	for _, p := range rows {
		if p.Synthetic {
			synthCount++
			if !p.Latency.Valid || p.Latency.Float64 != 42 {
				t.Errorf("expected last-known latency 42 to be carried onto synthetic pulse, got %v", p.Latency)
			}
		}
	}
	if synthCount == 0 {
		t.Error("expected at least one synthetic pulse to be backfilled")
	}
}

func TestRecoverySkipsMonitorWithNoPriorPulse(t *testing.T) {
	sm, store := newTestSelfMonitor(t)
	now := time.Now().Truncate(time.Minute)
	outageStart := now.Add(-2 * time.Minute)

	sm.runBackfill(outageStart, now)

	rows, err := store.PulsesInRange("m1", outageStart.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("PulsesInRange: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no backfill for a monitor with no prior pulse in the lookback window, got %d rows", len(rows))
	}
}

func TestRecoverySkipsMonitorWithStaleLastPulse(t *testing.T) {
	sm, store := newTestSelfMonitor(t)
	now := time.Now().Truncate(time.Minute)
	outageStart := now.Add(-2 * time.Minute)

	// More than 2*interval (120s) before the outage started — too stale to
	// count as "known healthy" entering the outage.
	staleTime := outageStart.Add(-10 * time.Minute)
	if err := store.InsertPulseBatch([]db.Pulse{{MonitorID: "m1", Timestamp: staleTime}}); err != nil {
		t.Fatalf("InsertPulseBatch: %v", err)
	}

	sm.runBackfill(outageStart, now)

	rows, err := store.PulsesInRange("m1", outageStart.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("PulsesInRange: %v", err)
	}
	for _, p := range rows {
		if p.Synthetic {
			t.Error("expected no synthetic backfill for a monitor whose last pulse predates the lookback window")
		}
	}
}

func TestLatencyStrategyNullOmitsLatency(t *testing.T) {
	sm, store := newTestSelfMonitor(t)
	sm.latencyStrategy = "null"
	now := time.Now().Truncate(time.Minute)
	outageStart := now.Add(-2 * time.Minute)
	lastKnown := outageStart.Add(-30 * time.Second)
	if err := store.InsertPulseBatch([]db.Pulse{
		{MonitorID: "m1", Timestamp: lastKnown, Latency: sql.NullFloat64{Float64: 42, Valid: true}},
	}); err != nil {
		t.Fatalf("InsertPulseBatch: %v", err)
	}

	sm.runBackfill(outageStart, now)

	rows, err := store.PulsesInRange("m1", outageStart.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("PulsesInRange: %v", err)
	}
	for _, p := range rows {
		if p.Synthetic && p.Latency.Valid {
			t.Error("expected latencyStrategy=null to leave synthetic pulses without a latency value")
		}
	}
}

func TestConcurrentBackfillRejected(t *testing.T) {
	sm, _ := newTestSelfMonitor(t)
	sm.mu.Lock()
	sm.backfilling = true
	sm.mu.Unlock()

	now := time.Now()
	sm.runBackfill(now.Add(-time.Minute), now) // should no-op, not deadlock or double-run

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.backfilling {
		t.Error("expected the in-flight backfill flag to remain set, since the second call should have been rejected outright")
	}
}

func TestBackfillCapAtMaxPulses(t *testing.T) {
	sm, store := newTestSelfMonitor(t)
	now := time.Now().Truncate(time.Second)
	// A huge outage window with a 1-second monitor interval would produce
	// far more than maxBackfillPerMonitor synthetic pulses if uncapped.
	outageStart := now.Add(-time.Duration(maxBackfillPerMonitor+500) * time.Second)
	lastKnown := outageStart.Add(-time.Second)
	if err := store.InsertPulseBatch([]db.Pulse{{MonitorID: "m1", Timestamp: lastKnown}}); err != nil {
		t.Fatalf("InsertPulseBatch: %v", err)
	}

	// Override the monitor's interval to 1s for this test via a fresh cache.
	mgr := newTestCacheManager(t, `
[[monitors]]
id = "m1"
token = "tok1"
name = "api"
interval = 1
maxRetries = 3
toleranceFactor = 1.5
`)
	sm.cacheMgr = mgr

	sm.runBackfill(outageStart, now)

	rows, err := store.PulsesInRange("m1", outageStart.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("PulsesInRange: %v", err)
	}
	var synthCount int
	for _, p := range rows {
		if p.Synthetic {
			synthCount++
		}
	}
	if synthCount > maxBackfillPerMonitor {
		t.Errorf("expected backfill to cap at %d pulses, got %d", maxBackfillPerMonitor, synthCount)
	}
}

func TestProbeOnceSuccessClearsMissedAndEnqueues(t *testing.T) {
	store, err := db.NewStore(db.NewTestConfig())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	mgr := newTestCacheManager(t, oneMonitorTOML)
	missed := &fakeMissedResetter{}
	queue := status.NewQueue()
	sm := New(store, mgr, missed, queue, config.SelfMonitor{Interval: time.Second, LatencyStrategy: "last-known"})

	sm.probeOnce()

	if len(missed.cleared) != 1 || missed.cleared[0] != ID {
		t.Errorf("expected ClearMissed(%s) on a successful probe, got %v", ID, missed.cleared)
	}
	drained := queue.Drain()
	if len(drained) != 1 || drained[0] != ID {
		t.Errorf("expected self-monitor ID enqueued for recompute, got %v", drained)
	}
}

func TestProbeOnceFailureEnqueuesWithoutClearingMissed(t *testing.T) {
	store, err := db.NewStore(db.NewTestConfig())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_ = store.Close() // force Healthcheck to fail
	mgr := newTestCacheManager(t, oneMonitorTOML)
	missed := &fakeMissedResetter{}
	queue := status.NewQueue()
	sm := New(store, mgr, missed, queue, config.SelfMonitor{Interval: time.Second, LatencyStrategy: "last-known"})

	sm.probeOnce()

	if len(missed.cleared) != 0 {
		t.Errorf("expected no ClearMissed on a failed probe, got %v", missed.cleared)
	}
	drained := queue.Drain()
	if len(drained) != 1 || drained[0] != ID {
		t.Errorf("expected self-monitor ID enqueued for recompute even on failure, got %v", drained)
	}
}

func TestSelfMonitorRegisteredAsSyntheticMonitor(t *testing.T) {
	mgr := newTestCacheManager(t, oneMonitorTOML)
	snap := mgr.Current()
	m, ok := snap.MonitorByID(ID)
	if !ok {
		t.Fatal("expected self-monitor to be registered as a synthetic monitor row")
	}
	if m.Token != "" {
		t.Errorf("expected self-monitor to be token-less, got %q", m.Token)
	}
}

func TestAlignUpAndDown(t *testing.T) {
	interval := 60 * time.Second
	t0 := time.Unix(125, 0).UTC()
	if got := alignDown(t0, interval); got.Unix() != 120 {
		t.Errorf("alignDown = %v, want unix 120", got)
	}
	if got := alignUp(t0, interval); got.Unix() != 180 {
		t.Errorf("alignUp = %v, want unix 180", got)
	}
	aligned := time.Unix(120, 0).UTC()
	if got := alignUp(aligned, interval); got.Unix() != 120 {
		t.Errorf("alignUp on an already-aligned time should be a no-op, got %v", got)
	}
}
