package status

import (
	"context"
	"math"
	"time"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
)

// defaultGroupDependencyConfirmWindow is how long a group's first down
// notification waits before sending, giving a dependency's own down-state a
// chance to settle and suppress it (§4.9's deferred-notification
// cancellation hook).
const defaultGroupDependencyConfirmWindow = 5 * time.Second

// EvaluateGroup recomputes a group's composite status and direct-child
// uptime aggregation, cascading to its own parent (§4.3.2, §4.3.3).
func (e *Evaluator) EvaluateGroup(groupID string) error {
	snap := e.cacheMgr.Current()
	g, ok := snap.GroupByID(groupID)
	if !ok {
		return nil
	}

	childIDs := snap.ChildrenOf(groupID)
	var up, down, unknown int
	childData := make(map[string]Data, len(childIDs))
	for _, id := range childIDs {
		d, ok := e.statusCache.Get(id)
		if !ok {
			unknown++
			continue
		}
		childData[id] = d
		switch d.Status {
		case Up, Degraded:
			up++
		case Down:
			down++
		default:
			unknown++
		}
	}

	total := len(childIDs)
	// Skip policies (§4.3.2): never overwrite older state on thin data.
	if total == 0 || up+down == 0 {
		return nil
	}
	if total > 0 && float64(unknown)/float64(total) > 0.5 {
		return nil
	}

	upPercentage := 100 * float64(up) / float64(up+down)

	var newStatus Value
	switch g.Strategy {
	case config.StrategyAnyUp:
		if up > 0 {
			newStatus = Up
		} else {
			newStatus = Down
		}
	case config.StrategyAllUp:
		if down == 0 {
			newStatus = Up
		} else {
			newStatus = Down
		}
	case config.StrategyPercentage:
		switch {
		case upPercentage >= 100:
			newStatus = Up
		case upPercentage >= float64(g.DegradedThreshold):
			newStatus = Degraded
		default:
			newStatus = Down
		}
	default:
		newStatus = Unknown
	}

	now := e.now()
	uptimes := make(map[Period]float64, len(Periods))
	for _, p := range Periods {
		uptimes[p] = e.aggregateChildUptime(snap, g, childData, p)
	}

	data := Data{
		ID:         g.ID,
		SourceType: "group",
		Name:       g.Name,
		Status:     newStatus,
		LastCheck:  now,
		Uptime:     uptimes,
		Children:   childIDs,
	}

	prev, hadPrev := e.statusCache.Get(g.ID)
	e.statusCache.Set(data)

	if hadPrev && prev.Status != newStatus {
		e.emitGroupStatusChange(g, prev.Status, newStatus, now)
	}
	// The down-counter advances on every recompute that finds the group
	// still down, not just on the transition edge — mirroring the
	// Missing-Pulse Detector's per-scan counter so resend/still-down
	// notifications actually fire (§4.4-style shouldNotify, scoped to
	// groups per §4.9).
	if newStatus == Down {
		e.maybeNotifyGroupDown(g, now)
	}

	if g.ParentID != "" {
		return e.EvaluateGroup(g.ParentID)
	}
	return nil
}

// emitGroupStatusChange fires once per status transition edge: it
// broadcasts unconditionally (live status pushes are never grace-gated)
// and handles the one-shot "recovered"/"degraded" dispatch. The "down"
// edge itself is handled by maybeNotifyGroupDown, called on every
// recompute the group stays down so resends keep advancing.
func (e *Evaluator) emitGroupStatusChange(g config.Group, prev, cur Value, now time.Time) {
	t := Transition{
		SourceType: "group",
		ID:         g.ID,
		Name:       g.Name,
		Timestamp:  now,
		GroupInfo:  &GroupInfo{GroupID: g.ID, GroupName: g.Name},
	}
	switch {
	case cur == Down:
		t.Type = "down"
	case cur == Degraded:
		t.Type = "degraded"
	case cur == Up && (prev == Down || prev == Degraded):
		t.Type = "recovered"
	default:
		return
	}
	if e.broadcaster != nil {
		e.broadcaster.BroadcastTransition(t)
	}

	switch t.Type {
	case "recovered":
		e.groupTracker.CancelPending(g.ID)
		e.groupTracker.RecordRecovery(g.ID)
		e.notifyGroup(g, t)
	case "degraded":
		e.notifyGroup(g, t)
	}
}

// maybeNotifyGroupDown advances the group's down-counter and decides
// whether this recompute owes a notification: the first down (deferred for
// dependency confirmation) or a resend once ShouldSendStillDown's
// threshold is crossed.
func (e *Evaluator) maybeNotifyGroupDown(g config.Group, now time.Time) {
	_, isNewDown := e.groupTracker.RecordDown(g.ID, now)
	t := Transition{
		Type:       "down",
		SourceType: "group",
		ID:         g.ID,
		Name:       g.Name,
		Timestamp:  now,
		GroupInfo:  &GroupInfo{GroupID: g.ID, GroupName: g.Name},
	}
	if isNewDown {
		e.scheduleGroupDownNotification(g, t)
		return
	}
	if e.groupTracker.ShouldSendStillDown(g.ID, g.ResendNotification) {
		t.Type = "still-down"
		e.notifyGroup(g, t)
	}
}

// scheduleGroupDownNotification defers a group's first down notification by
// groupDependencyConfirmWindow, registering the cancel func with
// groupTracker so a recovery or a confirmed-down dependency can abort it
// before it fires — at most one outstanding deferred notification per
// group (groupstate.Tracker.SchedulePending replaces any previous one).
func (e *Evaluator) scheduleGroupDownNotification(g config.Group, t Transition) {
	ctx, cancel := context.WithCancel(context.Background())
	e.groupTracker.SchedulePending(g.ID, cancel)

	timer := time.NewTimer(e.groupDependencyConfirmWindow)
	go func() {
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if e.groupDependencyDown(g) {
			return
		}
		e.notifyGroup(g, t)
	}()
}

// notifyGroup marks the down-counter's notification bookkeeping (a no-op
// for "recovered"/"degraded", which the tracker doesn't track) and
// dispatches unless suppressed by the startup grace window or a confirmed
// down dependency.
func (e *Evaluator) notifyGroup(g config.Group, t Transition) {
	if t.Type == "down" || t.Type == "still-down" {
		e.groupTracker.MarkNotified(g.ID)
	}
	if e.dispatcher == nil || e.InGracePeriod() {
		return
	}
	if (t.Type == "down" || t.Type == "still-down") && e.groupDependencyDown(g) {
		return
	}
	e.dispatcher.Dispatch(g.NotificationChannels, t)
}

// groupDependencyDown reports whether any of the group's declared
// dependencies is currently known-down, mirroring the Missing-Pulse
// Detector's per-monitor dependency suppression but scoped to groups.
func (e *Evaluator) groupDependencyDown(g config.Group) bool {
	for _, depID := range g.Dependencies {
		if data, ok := e.statusCache.Get(depID); ok && data.Status == Down {
			return true
		}
	}
	return false
}

// aggregateChildUptime implements §4.3.2's per-strategy direct-child uptime
// composition. Monitor children are weighted by their expected intervals in
// the window; sub-group children (whose uptime is already a composite) are
// weighted as a single unit.
func (e *Evaluator) aggregateChildUptime(snap *cache.Cache, g config.Group, childData map[string]Data, p Period) float64 {
	var values []float64
	var weights []float64

	for id, d := range childData {
		values = append(values, d.Uptime[p])
		if m, ok := snap.MonitorByID(id); ok {
			weights = append(weights, float64(expectedIntervals(m, p)))
		} else {
			weights = append(weights, 1)
		}
	}

	if len(values) == 0 {
		return 100
	}

	switch g.Strategy {
	case config.StrategyAnyUp:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case config.StrategyAllUp:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	default: // percentage: weighted mean
		var sumW, sumWV float64
		for i, v := range values {
			w := weights[i]
			if w <= 0 {
				w = 1
			}
			sumW += w
			sumWV += w * v
		}
		if sumW == 0 {
			return 100
		}
		return sumWV / sumW
	}
}

// expectedIntervals mirrors the weight computation in §4.3.1 step 3,
// without requiring a DB round trip — used only as an aggregation weight.
func expectedIntervals(m config.Monitor, p Period) int {
	toleranceSeconds := float64(m.Interval) * m.ToleranceFactor
	effectiveSeconds := p.Seconds() - toleranceSeconds
	return int(math.Max(0, math.Floor(effectiveSeconds/float64(m.Interval))))
}
