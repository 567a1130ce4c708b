package db

import (
	"database/sql"
	"time"

	"github.com/projecthelena/pulsewarden/internal/kinds"
)

// Bucket is one rolled-up row, shared by the hourly and daily tables
// (§3: "pulses_hourly ... pulses_daily same shape keyed by date").
type Bucket struct {
	MonitorID  string
	Time       time.Time // hour or day boundary
	Uptime     float64
	LatencyMin sql.NullFloat64
	LatencyMax sql.NullFloat64
	LatencyAvg sql.NullFloat64
	Custom1Min sql.NullFloat64
	Custom1Max sql.NullFloat64
	Custom1Avg sql.NullFloat64
	Custom2Min sql.NullFloat64
	Custom2Max sql.NullFloat64
	Custom2Avg sql.NullFloat64
	Custom3Min sql.NullFloat64
	Custom3Max sql.NullFloat64
	Custom3Avg sql.NullFloat64
}

func scanBucket(row interface{ Scan(...any) error }) (Bucket, error) {
	var b Bucket
	err := row.Scan(
		&b.MonitorID, &b.Time, &b.Uptime,
		&b.LatencyMin, &b.LatencyMax, &b.LatencyAvg,
		&b.Custom1Min, &b.Custom1Max, &b.Custom1Avg,
		&b.Custom2Min, &b.Custom2Max, &b.Custom2Avg,
		&b.Custom3Min, &b.Custom3Max, &b.Custom3Avg,
	)
	return b, err
}

// GetLastHourlyBucket returns the most recent hourly row for a monitor, or
// kinds.NotFound if none exist yet (the aggregation job then bootstraps
// from the monitor's first pulse, §4.6).
func (s *Store) GetLastHourlyBucket(monitorID string) (Bucket, error) {
	row := s.db.QueryRow(s.rebind(`
		SELECT monitor_id, hour, uptime,
		       latency_min, latency_max, latency_avg,
		       custom1_min, custom1_max, custom1_avg,
		       custom2_min, custom2_max, custom2_avg,
		       custom3_min, custom3_max, custom3_avg
		FROM pulses_hourly WHERE monitor_id = ? ORDER BY hour DESC LIMIT 1
	`), monitorID)
	b, err := scanBucket(row)
	if err == sql.ErrNoRows {
		return Bucket{}, kinds.New(kinds.NotFound, "no hourly buckets for monitor "+monitorID)
	}
	if err != nil {
		return Bucket{}, kinds.Wrap(kinds.StorageUnavailable, "query last hourly bucket", err)
	}
	return b, nil
}

const insertHourlyColumns = `
	monitor_id, hour, uptime,
	latency_min, latency_max, latency_avg,
	custom1_min, custom1_max, custom1_avg,
	custom2_min, custom2_max, custom2_avg,
	custom3_min, custom3_max, custom3_avg
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertHourlyRow writes one hourly bucket idempotently; an existing row for
// the same hour is kept. The
// job never revisits an already-aggregated bucket (§4.6: "non-reprocessing"),
// so a conflicting write is simply discarded rather than overwritten.
func (s *Store) InsertHourlyRow(b Bucket) error {
	var query string
	if s.IsPostgres() {
		query = "INSERT INTO pulses_hourly (" + insertHourlyColumns + " ON CONFLICT (monitor_id, hour) DO NOTHING"
	} else {
		query = "INSERT OR IGNORE INTO pulses_hourly (" + insertHourlyColumns
	}
	_, err := s.db.Exec(s.rebind(query),
		b.MonitorID, b.Time, b.Uptime,
		b.LatencyMin, b.LatencyMax, b.LatencyAvg,
		b.Custom1Min, b.Custom1Max, b.Custom1Avg,
		b.Custom2Min, b.Custom2Max, b.Custom2Avg,
		b.Custom3Min, b.Custom3Max, b.Custom3Avg,
	)
	if err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "insert hourly bucket", err)
	}
	return nil
}

// GetLastDailyBucket returns the most recent daily row for a monitor.
func (s *Store) GetLastDailyBucket(monitorID string) (Bucket, error) {
	row := s.db.QueryRow(s.rebind(`
		SELECT monitor_id, day, uptime,
		       latency_min, latency_max, latency_avg,
		       custom1_min, custom1_max, custom1_avg,
		       custom2_min, custom2_max, custom2_avg,
		       custom3_min, custom3_max, custom3_avg
		FROM pulses_daily WHERE monitor_id = ? ORDER BY day DESC LIMIT 1
	`), monitorID)
	b, err := scanBucket(row)
	if err == sql.ErrNoRows {
		return Bucket{}, kinds.New(kinds.NotFound, "no daily buckets for monitor "+monitorID)
	}
	if err != nil {
		return Bucket{}, kinds.Wrap(kinds.StorageUnavailable, "query last daily bucket", err)
	}
	return b, nil
}

const insertDailyColumns = `
	monitor_id, day, uptime,
	latency_min, latency_max, latency_avg,
	custom1_min, custom1_max, custom1_avg,
	custom2_min, custom2_max, custom2_avg,
	custom3_min, custom3_max, custom3_avg
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertDailyRow writes one daily bucket idempotently; an existing row for
// the same day is kept.
func (s *Store) InsertDailyRow(b Bucket) error {
	var query string
	if s.IsPostgres() {
		query = "INSERT INTO pulses_daily (" + insertDailyColumns + " ON CONFLICT (monitor_id, day) DO NOTHING"
	} else {
		query = "INSERT OR IGNORE INTO pulses_daily (" + insertDailyColumns
	}
	_, err := s.db.Exec(s.rebind(query),
		b.MonitorID, b.Time, b.Uptime,
		b.LatencyMin, b.LatencyMax, b.LatencyAvg,
		b.Custom1Min, b.Custom1Max, b.Custom1Avg,
		b.Custom2Min, b.Custom2Max, b.Custom2Avg,
		b.Custom3Min, b.Custom3Max, b.Custom3Avg,
	)
	if err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "insert daily bucket", err)
	}
	return nil
}

// GetHourlyRowsForDay returns every hourly bucket within [dayStart, dayEnd)
// for a monitor, used by the daily roll-up to average hourly uptime values
// (§4.6: "daily.uptime = avg(hourly.uptime in day)").
func (s *Store) GetHourlyRowsForDay(monitorID string, dayStart, dayEnd time.Time) ([]Bucket, error) {
	rows, err := s.db.Query(s.rebind(`
		SELECT monitor_id, hour, uptime,
		       latency_min, latency_max, latency_avg,
		       custom1_min, custom1_max, custom1_avg,
		       custom2_min, custom2_max, custom2_avg,
		       custom3_min, custom3_max, custom3_avg
		FROM pulses_hourly
		WHERE monitor_id = ? AND hour >= ? AND hour < ?
		ORDER BY hour ASC
	`), monitorID, dayStart, dayEnd)
	if err != nil {
		return nil, kinds.Wrap(kinds.StorageUnavailable, "query hourly rows for day", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, kinds.Wrap(kinds.StorageUnavailable, "scan hourly row", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// HourlyRowsInRange returns every hourly bucket within [start, end) for a
// monitor, used by the history endpoint's shorter period windows (§6).
func (s *Store) HourlyRowsInRange(monitorID string, start, end time.Time) ([]Bucket, error) {
	return s.GetHourlyRowsForDay(monitorID, start, end)
}

// DailyRowsInRange returns every daily bucket within [start, end) for a
// monitor, used by the history endpoint's longer period windows (§6).
func (s *Store) DailyRowsInRange(monitorID string, start, end time.Time) ([]Bucket, error) {
	rows, err := s.db.Query(s.rebind(`
		SELECT monitor_id, day, uptime,
		       latency_min, latency_max, latency_avg,
		       custom1_min, custom1_max, custom1_avg,
		       custom2_min, custom2_max, custom2_avg,
		       custom3_min, custom3_max, custom3_avg
		FROM pulses_daily
		WHERE monitor_id = ? AND day >= ? AND day < ?
		ORDER BY day ASC
	`), monitorID, start, end)
	if err != nil {
		return nil, kinds.Wrap(kinds.StorageUnavailable, "query daily rows in range", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, kinds.Wrap(kinds.StorageUnavailable, "scan daily row", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PruneHourlyBuckets deletes hourly rows older than the retention cutoff
// (§3: "hourly ~90d").
func (s *Store) PruneHourlyBuckets(before time.Time) error {
	_, err := s.db.Exec(s.rebind(`DELETE FROM pulses_hourly WHERE hour < ?`), before)
	if err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "prune hourly buckets", err)
	}
	return nil
}
