// Package missing implements the Missing-Pulse Detector (C4): a periodic
// scan that flags monitors whose pulses have gone stale, independent of the
// Status Evaluator's own recompute pass (§4.4).
package missing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/groupstate"
	"github.com/projecthelena/pulsewarden/internal/logging"
	"github.com/projecthelena/pulsewarden/internal/status"
)

var log = logging.New("missing")

const scanConcurrency = 8

// Detector owns the per-monitor missed-pulse counter and drives the
// down/still-down/recovered transitions of §4.4. It reuses
// internal/groupstate.Tracker for the consecutive-down bookkeeping — the
// same counter/invariant shape the Group-State Tracker needs, keyed here by
// monitor ID instead of group ID.
type Detector struct {
	cacheMgr    *cache.Manager
	statusCache *status.Cache
	dispatcher  status.Dispatcher
	tracker     *groupstate.Tracker

	startedAt     time.Time
	gracePeriod   time.Duration
	checkInterval time.Duration
	now           func() time.Time

	mu          sync.Mutex
	missedCount map[string]int
}

func New(cacheMgr *cache.Manager, statusCache *status.Cache, dispatcher status.Dispatcher, gracePeriod, checkInterval time.Duration) *Detector {
	return &Detector{
		cacheMgr:      cacheMgr,
		statusCache:   statusCache,
		dispatcher:    dispatcher,
		tracker:       groupstate.NewTracker(),
		startedAt:     time.Now(),
		gracePeriod:   gracePeriod,
		checkInterval: checkInterval,
		now:           time.Now,
		missedCount:   make(map[string]int),
	}
}

// Run drives the periodic scan until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ScanOnce(ctx)
		}
	}
}

// ScanOnce fans out one check per monitor with bounded concurrency and
// all-settled semantics: one monitor's panic-free error never aborts the
// others (§5).
func (d *Detector) ScanOnce(ctx context.Context) {
	snap := d.cacheMgr.Current()
	monitors := snap.MonitorsByLevelAscending()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, m := range monitors {
		m := m
		g.Go(func() error {
			d.checkMonitor(m, d.now())
			return nil
		})
	}
	_ = g.Wait()
}

// checkMonitor implements §4.4 steps 1-3: detect staleness (whether via a
// missing StatusCache entry past the grace window, or an elapsed gap past
// tolerance), advance the missed counter, and escalate once maxRetries is
// reached.
func (d *Detector) checkMonitor(m config.Monitor, now time.Time) {
	maxAllowed := m.ToleranceDuration()

	var stale bool
	if data, ok := d.statusCache.Get(m.ID); ok {
		stale = now.Sub(data.LastCheck) > maxAllowed
	} else {
		stale = now.Sub(d.startedAt) > d.gracePeriod+maxAllowed
	}
	if !stale {
		return
	}

	d.mu.Lock()
	d.missedCount[m.ID]++
	count := d.missedCount[m.ID]
	d.mu.Unlock()

	if count < m.MaxRetries {
		return
	}

	_, isNewDown := d.tracker.RecordDown(m.ID, now)
	if isNewDown {
		d.maybeNotify(m, now, "down")
		return
	}
	if d.tracker.ShouldSendStillDown(m.ID, m.ResendNotification) {
		d.maybeNotify(m, now, "still-down")
	}
}

// ClearMissed implements pulsestore.MissedCounterResetter: a received pulse
// resets the missed counter and, if the monitor was down, clears its
// down-state and emits a recovered transition (§4.2, §4.4 step 4).
func (d *Detector) ClearMissed(monitorID string) {
	d.mu.Lock()
	d.missedCount[monitorID] = 0
	d.mu.Unlock()

	if _, wasDown := d.tracker.State(monitorID); wasDown {
		d.tracker.RecordRecovery(monitorID)
		d.emitRecovered(monitorID)
	}
}

// maybeNotify marks the down-counter's notification bookkeeping, then emits
// the transition unless suppressed by the startup grace window or by a
// down dependency (§4.4 "Dependency suppression": the state and counters
// still advance, only the send is withheld).
func (d *Detector) maybeNotify(m config.Monitor, now time.Time, kind string) {
	d.tracker.MarkNotified(m.ID)

	if d.dispatcher == nil || now.Sub(d.startedAt) < d.gracePeriod {
		return
	}
	if d.dependencyDown(m) {
		return
	}
	d.dispatcher.Dispatch(m.NotificationChannels, status.Transition{
		Type:       kind,
		SourceType: "monitor",
		ID:         m.ID,
		Name:       m.Name,
		Timestamp:  now,
	})
}

func (d *Detector) emitRecovered(monitorID string) {
	snap := d.cacheMgr.Current()
	m, ok := snap.MonitorByID(monitorID)
	if !ok {
		return
	}
	now := d.now()
	if d.dispatcher == nil || now.Sub(d.startedAt) < d.gracePeriod {
		return
	}
	d.dispatcher.Dispatch(m.NotificationChannels, status.Transition{
		Type:       "recovered",
		SourceType: "monitor",
		ID:         m.ID,
		Name:       m.Name,
		Timestamp:  now,
	})
}

func (d *Detector) dependencyDown(m config.Monitor) bool {
	for _, depID := range m.Dependencies {
		if data, ok := d.statusCache.Get(depID); ok && data.Status == status.Down {
			return true
		}
	}
	return false
}

// MissedCount reports the current missed-check counter for a monitor, used
// by tests and the missing-pulse-detector health endpoint.
func (d *Detector) MissedCount(monitorID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.missedCount[monitorID]
}
