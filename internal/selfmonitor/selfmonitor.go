// Package selfmonitor implements the Self-Monitor + Backfill component
// (C7): a dedicated liveness probe against the storage backend, and the
// outage-window backfill that runs once it recovers (§4.7).
package selfmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/logging"
	"github.com/projecthelena/pulsewarden/internal/status"
)

var log = logging.New("selfmonitor")

// ID is the reserved monitor ID the self-monitor's own pulses are recorded
// under — registered as a synthetic row in the Configuration Cache
// (internal/cache.Build) rather than via config.toml, so its status flows
// through the same StatusCache/notification path as any other monitor.
const ID = config.SelfMonitorID

const maxBackfillPerMonitor = 10000

// MissedCounterResetter mirrors internal/pulsestore's interface: a received
// pulse clears the Missing-Pulse Detector's per-monitor counter and any
// down-state it was tracking.
type MissedCounterResetter interface {
	ClearMissed(monitorID string)
}

// SelfMonitor owns the liveness-probe schedule and the single-flight
// backfill it triggers on recovery.
type SelfMonitor struct {
	store    *db.Store
	cacheMgr *cache.Manager
	missed   MissedCounterResetter
	queue    *status.Queue

	interval        time.Duration
	latencyStrategy string
	now             func() time.Time

	mu          sync.Mutex
	down        bool
	downStart   time.Time
	backfilling bool
}

func New(store *db.Store, cacheMgr *cache.Manager, missed MissedCounterResetter, queue *status.Queue, cfg config.SelfMonitor) *SelfMonitor {
	return &SelfMonitor{
		store:           store,
		cacheMgr:        cacheMgr,
		missed:          missed,
		queue:           queue,
		interval:        cfg.Interval,
		latencyStrategy: cfg.LatencyStrategy,
		now:             time.Now,
	}
}

// Run drives the probe on a self-correcting schedule: each tick is
// computed from the previous scheduled time plus the interval, rather than
// from when the previous probe happened to finish, so a slow probe never
// accumulates drift (§5: "self-corrects drift (next-scheduled = prev +
// interval)").
func (sm *SelfMonitor) Run(ctx context.Context) {
	next := sm.now().Add(sm.interval)
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			sm.probeOnce()
			next = next.Add(sm.interval)
		}
	}
}

func (sm *SelfMonitor) probeOnce() {
	start := sm.now()
	err := sm.store.Healthcheck()
	now := sm.now()

	sm.mu.Lock()
	if err != nil {
		if !sm.down {
			sm.down = true
			sm.downStart = now
		}
		sm.mu.Unlock()
		log.Printf("storage healthcheck failed: %v", err)
		if sm.queue != nil {
			// No pulse lands on a failed probe, so the Status Evaluator's own
			// staleness check won't see a gap yet; enqueuing here gets the
			// down state into StatusCache immediately instead of waiting for
			// the next Missing-Pulse Detector scan.
			sm.queue.Enqueue(ID)
		}
		return
	}
	wasDown := sm.down
	outageStart := sm.downStart
	sm.down = false
	sm.mu.Unlock()

	latencyMs := float64(now.Sub(start).Milliseconds())
	pulse := db.Pulse{MonitorID: ID, Timestamp: now}
	pulse.Latency.Float64, pulse.Latency.Valid = latencyMs, true
	if insertErr := sm.store.InsertPulseBatch([]db.Pulse{pulse}); insertErr != nil {
		log.Printf("self-monitor pulse insert failed: %v", insertErr)
	} else {
		if sm.missed != nil {
			sm.missed.ClearMissed(ID)
		}
		if sm.queue != nil {
			sm.queue.Enqueue(ID)
		}
	}

	if wasDown {
		sm.runBackfill(outageStart, now)
	}
}

// IsDown reports the self-monitor's current liveness.
func (sm *SelfMonitor) IsDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.down
}

// runBackfill synthesizes pulses for every monitor that was "known
// healthy" entering the outage. Concurrent backfills are rejected outright
// (§4.7) rather than queued — a second storage blip mid-backfill will be
// picked up by the next recovery.
func (sm *SelfMonitor) runBackfill(outageStart, recoveredAt time.Time) {
	sm.mu.Lock()
	if sm.backfilling {
		sm.mu.Unlock()
		log.Printf("backfill already in progress, skipping")
		return
	}
	sm.backfilling = true
	sm.mu.Unlock()

	defer func() {
		sm.mu.Lock()
		sm.backfilling = false
		sm.mu.Unlock()
	}()

	snap := sm.cacheMgr.Current()
	for _, m := range snap.Document().Monitors {
		if err := sm.backfillMonitor(m, outageStart, recoveredAt); err != nil {
			log.Printf("backfill failed for monitor %s: %v", m.ID, err)
		}
	}
}

// backfillMonitor implements §4.7's per-monitor synthesis rule.
func (sm *SelfMonitor) backfillMonitor(m config.Monitor, outageStart, recoveredAt time.Time) error {
	interval := m.IntervalDuration()
	lookbackStart := outageStart.Add(-2 * interval)

	last, err := sm.store.LastNonSyntheticPulse(m.ID)
	if err != nil {
		return nil // never reported, or lookup failed — nothing to extrapolate from
	}
	if last.Timestamp.Before(lookbackStart) || !last.Timestamp.Before(outageStart) {
		return nil // outside the "known healthy" window
	}

	first := alignUp(outageStart, interval)
	lastBoundary := alignDown(recoveredAt, interval)
	if lastBoundary.Before(first) {
		return nil
	}

	var pulses []db.Pulse
	for t := first; !t.After(lastBoundary) && len(pulses) < maxBackfillPerMonitor; t = t.Add(interval) {
		p := db.Pulse{MonitorID: m.ID, Timestamp: t, Synthetic: true}
		if sm.latencyStrategy == "last-known" {
			p.Latency = last.Latency
			p.Custom1 = last.Custom1
			p.Custom2 = last.Custom2
			p.Custom3 = last.Custom3
		}
		pulses = append(pulses, p)
	}
	if len(pulses) == 0 {
		return nil
	}
	return sm.store.InsertPulseBatch(pulses)
}

// alignDown rounds t down to the nearest interval-seconds boundary on the
// same epoch grid §4.3.1's bucket math uses (⌊timestamp/interval⌋).
func alignDown(t time.Time, interval time.Duration) time.Time {
	sec := int64(interval.Seconds())
	if sec <= 0 {
		return t
	}
	unix := t.Unix()
	aligned := (unix / sec) * sec
	return time.Unix(aligned, 0).UTC()
}

func alignUp(t time.Time, interval time.Duration) time.Time {
	down := alignDown(t, interval)
	if down.Equal(t) {
		return down
	}
	return down.Add(interval)
}
