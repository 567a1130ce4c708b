package status

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/groupstate"
	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/logging"
)

var log = logging.New("status")

// recomputeConcurrency bounds the parallel fan-out of the drain loop (§5:
// "processes them in parallel with bounded concurrency").
const recomputeConcurrency = 8

// Evaluator is the Status Evaluator (C3): it owns the StatusCache, computes
// monitor and group status/uptime, and emits transitions to the dispatcher.
type Evaluator struct {
	store        *db.Store
	cacheMgr     *cache.Manager
	statusCache  *Cache
	queue        *Queue
	dispatcher   Dispatcher
	broadcaster  Broadcaster
	groupTracker *groupstate.Tracker

	startedAt   time.Time
	gracePeriod time.Duration
	now         func() time.Time

	// groupDependencyConfirmWindow is how long a group's first down
	// notification waits before sending, overridable in tests.
	groupDependencyConfirmWindow time.Duration
}

// New builds an Evaluator. dispatcher may be nil until the notification
// dispatcher is wired in; transitions are simply dropped in that case.
func New(store *db.Store, cacheMgr *cache.Manager, gracePeriod time.Duration, dispatcher Dispatcher) *Evaluator {
	return &Evaluator{
		store:                        store,
		cacheMgr:                     cacheMgr,
		statusCache:                  NewCache(),
		queue:                        NewQueue(),
		dispatcher:                   dispatcher,
		groupTracker:                 groupstate.NewTracker(),
		startedAt:                    time.Now(),
		gracePeriod:                  gracePeriod,
		now:                          time.Now,
		groupDependencyConfirmWindow: defaultGroupDependencyConfirmWindow,
	}
}

// StatusCache exposes the evaluator's cache for read-only consumers (API,
// realtime broadcaster).
func (e *Evaluator) StatusCache() *Cache { return e.statusCache }

// SetBroadcaster wires the realtime broadcaster in after construction,
// since internal/realtime.Hub is built after the evaluator and would
// otherwise create an import cycle through the constructor.
func (e *Evaluator) SetBroadcaster(b Broadcaster) { e.broadcaster = b }

// Queue exposes the recompute queue so C2 can enqueue monitor IDs on
// ingest.
func (e *Evaluator) Queue() *Queue { return e.queue }

// InGracePeriod reports whether the startup grace window is still active.
func (e *Evaluator) InGracePeriod() bool {
	return e.now().Sub(e.startedAt) <= e.gracePeriod
}

// Run drains the recompute queue every 5s until ctx is cancelled (§5:
// "Status-recompute drain: 5s period").
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.DrainOnce(ctx)
		}
	}
}

// DrainOnce processes every currently-queued monitor ID with bounded
// parallelism; per-monitor errors are logged and do not abort the batch.
func (e *Evaluator) DrainOnce(ctx context.Context) {
	ids := e.queue.Drain()
	if len(ids) == 0 {
		return
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(recomputeConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := e.EvaluateMonitor(id); err != nil && kinds.Of(err) != kinds.NotFound {
				log.Printf("evaluate monitor %s: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// EvaluateMonitor recomputes status and rolling uptime for a monitor and
// cascades to its parent group (§4.3.1, §4.3.3).
func (e *Evaluator) EvaluateMonitor(monitorID string) error {
	snap := e.cacheMgr.Current()
	m, ok := snap.MonitorByID(monitorID)
	if !ok {
		return kinds.New(kinds.NotFound, "unknown monitor "+monitorID)
	}

	latest, err := e.store.LatestPulse(monitorID)
	if err != nil {
		if kinds.Of(err) == kinds.NotFound {
			// No pulse has ever arrived; nothing to derive a status from yet
			// (invariant 1 permits the absence of an entry).
			return nil
		}
		return err
	}

	now := e.now()
	var latency *float64
	if latest.Latency.Valid {
		l := latest.Latency.Float64
		latency = &l
	}

	toleranceMs := float64(m.Interval) * m.ToleranceFactor * 1000
	elapsedMs := float64(now.Sub(latest.Timestamp).Milliseconds())
	newStatus := Up
	if elapsedMs > toleranceMs {
		newStatus = Down
	}

	uptimes := make(map[Period]float64, len(Periods))
	for _, p := range Periods {
		u, err := e.monitorUptime(m, p, now)
		if err != nil {
			return err
		}
		uptimes[p] = u
	}

	data := Data{
		ID:         m.ID,
		SourceType: "monitor",
		Name:       m.Name,
		Status:     newStatus,
		Latency:    latency,
		LastCheck:  latest.Timestamp,
		Uptime:     uptimes,
	}

	prev, hadPrev := e.statusCache.Get(m.ID)
	e.statusCache.Set(data)

	if hadPrev && prev.Status != newStatus {
		e.emitMonitorTransition(m, prev.Status, newStatus, now)
	}

	if m.GroupID != "" {
		return e.EvaluateGroup(m.GroupID)
	}
	return nil
}

func (e *Evaluator) emitMonitorTransition(m config.Monitor, prev, cur Value, now time.Time) {
	t := Transition{
		SourceType: "monitor",
		ID:         m.ID,
		Name:       m.Name,
		Timestamp:  now,
	}
	switch {
	case cur == Down:
		t.Type = "down"
	case cur == Up && prev == Down:
		t.Type = "recovered"
	default:
		return
	}
	if e.broadcaster != nil {
		e.broadcaster.BroadcastTransition(t)
	}
	if e.dispatcher == nil || e.InGracePeriod() {
		return
	}
	e.dispatcher.Dispatch(m.NotificationChannels, t)
}

// monitorUptime implements §4.3.1 steps 1-5.
func (e *Evaluator) monitorUptime(m config.Monitor, p Period, now time.Time) (float64, error) {
	toleranceSeconds := float64(m.Interval) * m.ToleranceFactor
	effectiveSeconds := p.Seconds() - toleranceSeconds
	expectedIntervals := int(math.Max(0, math.Floor(effectiveSeconds/float64(m.Interval))))
	if expectedIntervals == 0 {
		return 100, nil
	}

	windowStart := now.Add(-time.Duration(p.Seconds()) * time.Second)
	windowEnd := now.Add(-time.Duration(toleranceSeconds) * time.Second)

	count, err := e.store.CountDistinctBuckets(m.ID, m.Interval, windowStart, windowEnd)
	if err != nil {
		return 0, err
	}
	uptime := 100 * float64(count) / float64(expectedIntervals)
	return math.Min(100, uptime), nil
}
