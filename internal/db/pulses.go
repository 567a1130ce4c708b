package db

import (
	"database/sql"
	"time"

	"github.com/projecthelena/pulsewarden/internal/kinds"
)

// Pulse is a single ingested sample (§3 Data Model).
type Pulse struct {
	MonitorID string
	Timestamp time.Time
	Latency   sql.NullFloat64
	Custom1   sql.NullFloat64
	Custom2   sql.NullFloat64
	Custom3   sql.NullFloat64
	Synthetic bool
}

// InsertPulseBatch writes a batch of pulses inside one transaction, matching
// the write-buffer's batch/flush contract (§4.2, §5).
func (s *Store) InsertPulseBatch(pulses []Pulse) error {
	if len(pulses) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "begin pulse batch", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(s.rebind(`
		INSERT INTO pulses (monitor_id, timestamp, latency, custom1, custom2, custom3, synthetic)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "prepare pulse insert", err)
	}
	defer stmt.Close()

	for _, p := range pulses {
		if _, err := stmt.Exec(p.MonitorID, p.Timestamp, p.Latency, p.Custom1, p.Custom2, p.Custom3, p.Synthetic); err != nil {
			return kinds.Wrap(kinds.StorageUnavailable, "insert pulse", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "commit pulse batch", err)
	}
	return nil
}

// CountDistinctBuckets implements §4.3.1 step 4: the number of distinct
// interval-buckets containing >= 1 pulse within (windowStart, windowEnd].
func (s *Store) CountDistinctBuckets(monitorID string, intervalSeconds int, windowStart, windowEnd time.Time) (int, error) {
	if intervalSeconds <= 0 {
		return 0, kinds.New(kinds.Internal, "interval must be > 0")
	}

	var query string
	if s.IsPostgres() {
		query = `
			SELECT COUNT(DISTINCT FLOOR(EXTRACT(EPOCH FROM timestamp) / ?))
			FROM pulses
			WHERE monitor_id = ? AND timestamp > ? AND timestamp <= ?
		`
	} else {
		query = `
			SELECT COUNT(DISTINCT CAST(strftime('%s', timestamp) AS INTEGER) / ?)
			FROM pulses
			WHERE monitor_id = ? AND timestamp > ? AND timestamp <= ?
		`
	}

	var count int
	row := s.db.QueryRow(s.rebind(query), intervalSeconds, monitorID, windowStart, windowEnd)
	if err := row.Scan(&count); err != nil {
		return 0, kinds.Wrap(kinds.StorageUnavailable, "count distinct buckets", err)
	}
	return count, nil
}

// LatestPulse returns the most recent pulse for a monitor, used to derive
// latency + lastCheck for §4.3.1. Returns kinds.NotFound if the monitor has
// never reported.
func (s *Store) LatestPulse(monitorID string) (*Pulse, error) {
	row := s.db.QueryRow(s.rebind(`
		SELECT monitor_id, timestamp, latency, custom1, custom2, custom3, synthetic
		FROM pulses
		WHERE monitor_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`), monitorID)

	var p Pulse
	if err := row.Scan(&p.MonitorID, &p.Timestamp, &p.Latency, &p.Custom1, &p.Custom2, &p.Custom3, &p.Synthetic); err != nil {
		if err == sql.ErrNoRows {
			return nil, kinds.New(kinds.NotFound, "no pulses for monitor "+monitorID)
		}
		return nil, kinds.Wrap(kinds.StorageUnavailable, "query latest pulse", err)
	}
	return &p, nil
}

// FirstPulseTime returns the timestamp of the earliest pulse for a monitor,
// used by the aggregation job to bootstrap the hourly roll-up (§4.6) and by
// backfill to bound the window it may synthesize into (§4.7).
func (s *Store) FirstPulseTime(monitorID string) (time.Time, error) {
	row := s.db.QueryRow(s.rebind(`
		SELECT timestamp FROM pulses WHERE monitor_id = ? ORDER BY timestamp ASC LIMIT 1
	`), monitorID)

	var t time.Time
	if err := row.Scan(&t); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, kinds.New(kinds.NotFound, "no pulses for monitor "+monitorID)
		}
		return time.Time{}, kinds.Wrap(kinds.StorageUnavailable, "query first pulse", err)
	}
	return t, nil
}

// LastNonSyntheticPulse returns the most recent pulse that was not
// synthesized by backfill, used by the self-monitor to find the boundary of
// an outage window (§4.7).
func (s *Store) LastNonSyntheticPulse(monitorID string) (*Pulse, error) {
	row := s.db.QueryRow(s.rebind(`
		SELECT monitor_id, timestamp, latency, custom1, custom2, custom3, synthetic
		FROM pulses
		WHERE monitor_id = ? AND synthetic = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`), monitorID, false)

	var p Pulse
	if err := row.Scan(&p.MonitorID, &p.Timestamp, &p.Latency, &p.Custom1, &p.Custom2, &p.Custom3, &p.Synthetic); err != nil {
		if err == sql.ErrNoRows {
			return nil, kinds.New(kinds.NotFound, "no non-synthetic pulses for monitor "+monitorID)
		}
		return nil, kinds.Wrap(kinds.StorageUnavailable, "query last non-synthetic pulse", err)
	}
	return &p, nil
}

// PulsesInRange returns raw pulses for a monitor ordered by timestamp,
// bounded by (start, end]. Used by the aggregation job to compute
// min/max/avg per hour/day bucket.
func (s *Store) PulsesInRange(monitorID string, start, end time.Time) ([]Pulse, error) {
	rows, err := s.db.Query(s.rebind(`
		SELECT monitor_id, timestamp, latency, custom1, custom2, custom3, synthetic
		FROM pulses
		WHERE monitor_id = ? AND timestamp > ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`), monitorID, start, end)
	if err != nil {
		return nil, kinds.Wrap(kinds.StorageUnavailable, "query pulses in range", err)
	}
	defer rows.Close()

	var out []Pulse
	for rows.Next() {
		var p Pulse
		if err := rows.Scan(&p.MonitorID, &p.Timestamp, &p.Latency, &p.Custom1, &p.Custom2, &p.Custom3, &p.Synthetic); err != nil {
			return nil, kinds.Wrap(kinds.StorageUnavailable, "scan pulse row", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PruneRawPulses deletes raw pulses older than the retention cutoff (§3:
// "raw pulses retain ~1y").
func (s *Store) PruneRawPulses(before time.Time) error {
	_, err := s.db.Exec(s.rebind(`DELETE FROM pulses WHERE timestamp < ?`), before)
	if err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "prune raw pulses", err)
	}
	return nil
}
