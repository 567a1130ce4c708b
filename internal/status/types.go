// Package status implements the Status Evaluator (C3): monitor status and
// rolling uptime, group status composition, and transition emission.
package status

import "time"

// Value is a computed status (§3, §4.3).
type Value string

const (
	Up       Value = "up"
	Down     Value = "down"
	Degraded Value = "degraded"
	Unknown  Value = "unknown"
)

// Period is one of the six fixed reporting windows in §4.3.1.
type Period string

const (
	Period1h   Period = "1h"
	Period24h  Period = "24h"
	Period7d   Period = "7d"
	Period30d  Period = "30d"
	Period90d  Period = "90d"
	Period365d Period = "365d"
)

// Periods lists every reporting period, in the order StatusData.Uptime is
// populated and reported.
var Periods = []Period{Period1h, Period24h, Period7d, Period30d, Period90d, Period365d}

// Seconds returns the period's length in seconds.
func (p Period) Seconds() float64 {
	switch p {
	case Period1h:
		return 3600
	case Period24h:
		return 24 * 3600
	case Period7d:
		return 7 * 24 * 3600
	case Period30d:
		return 30 * 24 * 3600
	case Period90d:
		return 90 * 24 * 3600
	case Period365d:
		return 365 * 24 * 3600
	default:
		return 0
	}
}

// Data is the cached computed status for one entity (§3: StatusCache).
type Data struct {
	ID         string
	SourceType string // "monitor" | "group"
	Name       string
	Status     Value
	Latency    *float64
	LastCheck  time.Time
	Uptime     map[Period]float64
	Children   []string // group only
}

// Transition is emitted on a status change (§4.3.3).
type Transition struct {
	Type       string // "down" | "still-down" | "degraded" | "recovered"
	SourceType string
	ID         string
	Name       string
	Timestamp  time.Time
	GroupInfo  *GroupInfo
}

// GroupInfo annotates a transition that originated from or cascaded into a
// group, for notification rendering.
type GroupInfo struct {
	GroupID   string
	GroupName string
}

// Dispatcher is the notification fan-out boundary the evaluator emits
// transitions to (implemented by internal/notify.Service).
type Dispatcher interface {
	Dispatch(channelIDs []string, event Transition)
}

// Broadcaster is the realtime fan-out boundary the evaluator emits
// transitions to (implemented by internal/realtime.Hub). Unlike Dispatcher,
// broadcasts are never suppressed by the startup grace window — §5 gates
// notifications, not live status pushes.
type Broadcaster interface {
	BroadcastTransition(event Transition)
}
