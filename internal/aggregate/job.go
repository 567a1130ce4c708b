// Package aggregate implements the Aggregation Job (C6): the periodic
// hourly/daily roll-up of raw pulses into pulses_hourly/pulses_daily
// (§4.6), run single-flight with a forced-abort ceiling.
package aggregate

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"time"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/logging"
)

var log = logging.New("aggregate")

const (
	maxHourlyBatch = 2000
	maxDailyBatch  = 365
)

// Job owns the single-flight run state: at most one roll-up active at a
// time, with a forced-abort ceiling for a run that runs long (§4.6, §5).
type Job struct {
	store    *db.Store
	cacheMgr *cache.Manager

	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	mu           sync.Mutex
	runningSince *time.Time
	cancelRun    context.CancelFunc
}

func New(store *db.Store, cacheMgr *cache.Manager, cfg config.Aggregation) *Job {
	return &Job{
		store:      store,
		cacheMgr:   cacheMgr,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
}

// Run drives the periodic tick until ctx is cancelled.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

// tick enforces the single-flight contract: skip if a run is active and
// still fresh, abort-and-restart if it has overrun staleAfter.
func (j *Job) tick(ctx context.Context) {
	j.mu.Lock()
	if j.runningSince != nil {
		if j.now().Sub(*j.runningSince) < j.staleAfter {
			j.mu.Unlock()
			log.Printf("aggregation run still active, skipping this tick")
			return
		}
		log.Printf("aggregation run exceeded staleAfter ceiling, aborting it")
		j.cancelRun()
	}

	runCtx, cancel := context.WithCancel(ctx)
	start := j.now()
	j.runningSince = &start
	j.cancelRun = cancel
	j.mu.Unlock()

	go func() {
		defer func() {
			j.mu.Lock()
			j.runningSince = nil
			j.cancelRun = nil
			j.mu.Unlock()
		}()
		j.RunOnce(runCtx)
	}()
}

// RunOnce iterates every monitor serially, isolating per-monitor errors
// (§5: "per-monitor iteration serial inside a run, per-monitor errors
// isolated").
func (j *Job) RunOnce(ctx context.Context) {
	snap := j.cacheMgr.Current()
	for _, m := range snap.Document().Monitors {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := j.aggregateMonitor(m); err != nil {
			log.Printf("aggregation failed for monitor %s: %v", m.ID, err)
		}
	}
}

func (j *Job) aggregateMonitor(m config.Monitor) error {
	if err := j.rollupHourly(m); err != nil {
		return err
	}
	return j.rollupDaily(m)
}

// rollupHourly implements §4.6's hourly roll-up, including the
// partial-first-hour exception and the 2000-hour batch cap.
func (j *Job) rollupHourly(m config.Monitor) error {
	h0, bootstrapping, err := j.hourlyStart(m.ID)
	if err != nil {
		return err
	}
	if h0.IsZero() && !bootstrapping {
		return nil // no pulses yet, nothing to aggregate
	}

	now := j.now()
	completedHours := int(now.Truncate(time.Hour).Sub(h0) / time.Hour)
	if completedHours <= 0 {
		return nil
	}
	batch := completedHours
	if batch > maxHourlyBatch {
		batch = maxHourlyBatch
	}

	expectedBucketsPerHour := 3600 / m.Interval

	var firstPulse time.Time
	if bootstrapping {
		firstPulse, err = j.store.FirstPulseTime(m.ID)
		if err != nil {
			return err
		}
	}

	for i := 0; i < batch; i++ {
		hourStart := h0.Add(time.Duration(i) * time.Hour)
		hourEnd := hourStart.Add(time.Hour)

		expected := expectedBucketsPerHour
		if bootstrapping && i == 0 {
			expected = partialFirstHourExpected(m.Interval, firstPulse, hourStart)
		}

		distinct, err := j.store.CountDistinctBuckets(m.ID, m.Interval, hourStart, hourEnd)
		if err != nil {
			return err
		}
		uptime := 0.0
		if expected > 0 {
			uptime = math.Min(100, 100*float64(distinct)/float64(expected))
		}

		pulses, err := j.store.PulsesInRange(m.ID, hourStart, hourEnd)
		if err != nil {
			return err
		}

		b := db.Bucket{MonitorID: m.ID, Time: hourStart, Uptime: uptime}
		b.LatencyMin, b.LatencyMax, b.LatencyAvg = aggregatePulseField(pulses, func(p db.Pulse) sql.NullFloat64 { return p.Latency })
		b.Custom1Min, b.Custom1Max, b.Custom1Avg = aggregatePulseField(pulses, func(p db.Pulse) sql.NullFloat64 { return p.Custom1 })
		b.Custom2Min, b.Custom2Max, b.Custom2Avg = aggregatePulseField(pulses, func(p db.Pulse) sql.NullFloat64 { return p.Custom2 })
		b.Custom3Min, b.Custom3Max, b.Custom3Avg = aggregatePulseField(pulses, func(p db.Pulse) sql.NullFloat64 { return p.Custom3 })

		if err := j.store.InsertHourlyRow(b); err != nil {
			return err
		}
	}
	return nil
}

// hourlyStart resolves H0: the hour immediately following the last
// aggregated hourly bucket, or (bootstrapping=true) the first pulse's
// enclosing hour when no bucket has ever been written.
func (j *Job) hourlyStart(monitorID string) (h0 time.Time, bootstrapping bool, err error) {
	last, err := j.store.GetLastHourlyBucket(monitorID)
	if err == nil {
		return last.Time.Add(time.Hour), false, nil
	}
	if kinds.Of(err) != kinds.NotFound {
		return time.Time{}, false, err
	}

	first, err := j.store.FirstPulseTime(monitorID)
	if err != nil {
		if kinds.Of(err) == kinds.NotFound {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return first.Truncate(time.Hour), true, nil
}

// partialFirstHourExpected scales the expected-buckets count to the
// remaining seconds in the bootstrap hour from the first pulse's own
// timestamp (§4.6's partial first hour exception).
func partialFirstHourExpected(intervalSeconds int, firstPulse, hourStart time.Time) int {
	secondsInto := int(firstPulse.Sub(hourStart).Seconds())
	remaining := 3600 - secondsInto
	e := remaining / intervalSeconds
	if e < 1 {
		e = 1
	}
	return e
}

// rollupDaily implements §4.6's daily roll-up: symmetric to hourly, capped
// at 365 days, with daily.uptime = avg(hourly.uptime in day).
func (j *Job) rollupDaily(m config.Monitor) error {
	d0, bootstrapping, err := j.dailyStart(m.ID)
	if err != nil {
		return err
	}
	if d0.IsZero() && !bootstrapping {
		return nil
	}

	now := j.now()
	today := truncateToDay(now)
	completedDays := int(today.Sub(d0) / (24 * time.Hour))
	if completedDays <= 0 {
		return nil
	}
	batch := completedDays
	if batch > maxDailyBatch {
		batch = maxDailyBatch
	}

	for i := 0; i < batch; i++ {
		dayStart := d0.AddDate(0, 0, i)
		dayEnd := dayStart.AddDate(0, 0, 1)

		rows, err := j.store.GetHourlyRowsForDay(m.ID, dayStart, dayEnd)
		if err != nil {
			return err
		}

		uptime := 0.0
		if len(rows) > 0 {
			var sum float64
			for _, r := range rows {
				sum += r.Uptime
			}
			uptime = sum / float64(len(rows))
		}

		b := db.Bucket{MonitorID: m.ID, Time: dayStart, Uptime: uptime}
		b.LatencyMin, b.LatencyMax, b.LatencyAvg = aggregateBucketField(rows, func(r db.Bucket) sql.NullFloat64 { return r.LatencyAvg })
		b.Custom1Min, b.Custom1Max, b.Custom1Avg = aggregateBucketField(rows, func(r db.Bucket) sql.NullFloat64 { return r.Custom1Avg })
		b.Custom2Min, b.Custom2Max, b.Custom2Avg = aggregateBucketField(rows, func(r db.Bucket) sql.NullFloat64 { return r.Custom2Avg })
		b.Custom3Min, b.Custom3Max, b.Custom3Avg = aggregateBucketField(rows, func(r db.Bucket) sql.NullFloat64 { return r.Custom3Avg })

		if err := j.store.InsertDailyRow(b); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) dailyStart(monitorID string) (d0 time.Time, bootstrapping bool, err error) {
	last, err := j.store.GetLastDailyBucket(monitorID)
	if err == nil {
		return last.Time.AddDate(0, 0, 1), false, nil
	}
	if kinds.Of(err) != kinds.NotFound {
		return time.Time{}, false, err
	}

	first, err := j.store.FirstPulseTime(monitorID)
	if err != nil {
		if kinds.Of(err) == kinds.NotFound {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return truncateToDay(first), true, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func aggregatePulseField(pulses []db.Pulse, get func(db.Pulse) sql.NullFloat64) (min, max, avg sql.NullFloat64) {
	var sum float64
	var count int
	var mn, mx float64
	for _, p := range pulses {
		v := get(p)
		if !v.Valid {
			continue
		}
		if count == 0 || v.Float64 < mn {
			mn = v.Float64
		}
		if count == 0 || v.Float64 > mx {
			mx = v.Float64
		}
		sum += v.Float64
		count++
	}
	if count == 0 {
		return
	}
	return sql.NullFloat64{Float64: mn, Valid: true}, sql.NullFloat64{Float64: mx, Valid: true}, sql.NullFloat64{Float64: sum / float64(count), Valid: true}
}

func aggregateBucketField(rows []db.Bucket, get func(db.Bucket) sql.NullFloat64) (min, max, avg sql.NullFloat64) {
	var sum float64
	var count int
	var mn, mx float64
	for _, r := range rows {
		v := get(r)
		if !v.Valid {
			continue
		}
		if count == 0 || v.Float64 < mn {
			mn = v.Float64
		}
		if count == 0 || v.Float64 > mx {
			mx = v.Float64
		}
		sum += v.Float64
		count++
	}
	if count == 0 {
		return
	}
	return sql.NullFloat64{Float64: mn, Valid: true}, sql.NullFloat64{Float64: mx, Valid: true}, sql.NullFloat64{Float64: sum / float64(count), Valid: true}
}
