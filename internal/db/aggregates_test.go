package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/projecthelena/pulsewarden/internal/kinds"
)

func TestInsertAndGetLastHourlyBucket(t *testing.T) {
	s := newTestStore(t)

	h := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	b := Bucket{
		MonitorID:  "m1",
		Time:       h,
		Uptime:     95.5,
		LatencyAvg: sql.NullFloat64{Float64: 20, Valid: true},
	}
	if err := s.InsertHourlyRow(b); err != nil {
		t.Fatalf("InsertHourlyRow failed: %v", err)
	}

	// A later hour should win as "last".
	later := Bucket{MonitorID: "m1", Time: h.Add(time.Hour), Uptime: 100}
	if err := s.InsertHourlyRow(later); err != nil {
		t.Fatalf("InsertHourlyRow failed: %v", err)
	}

	last, err := s.GetLastHourlyBucket("m1")
	if err != nil {
		t.Fatalf("GetLastHourlyBucket failed: %v", err)
	}
	if !last.Time.Equal(h.Add(time.Hour)) {
		t.Errorf("expected last bucket hour %v, got %v", h.Add(time.Hour), last.Time)
	}
}

func TestInsertHourlyRowIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	h := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	b := Bucket{MonitorID: "m1", Time: h, Uptime: 50}
	if err := s.InsertHourlyRow(b); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	// Re-running with a different uptime must not overwrite the existing row
	// (§4.6: already-aggregated buckets are never revisited).
	conflicting := Bucket{MonitorID: "m1", Time: h, Uptime: 999}
	if err := s.InsertHourlyRow(conflicting); err != nil {
		t.Fatalf("conflicting insert failed: %v", err)
	}

	last, err := s.GetLastHourlyBucket("m1")
	if err != nil {
		t.Fatalf("GetLastHourlyBucket failed: %v", err)
	}
	if last.Uptime != 50 {
		t.Errorf("expected original uptime 50 preserved, got %v", last.Uptime)
	}
}

func TestGetLastHourlyBucketNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetLastHourlyBucket("missing")
	if kinds.Of(err) != kinds.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDailyRollupAveragesHourly(t *testing.T) {
	s := newTestStore(t)

	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hours := []float64{100, 50, 0}
	for i, uptime := range hours {
		h := day.Add(time.Duration(i) * time.Hour)
		if err := s.InsertHourlyRow(Bucket{MonitorID: "m1", Time: h, Uptime: uptime}); err != nil {
			t.Fatalf("InsertHourlyRow failed: %v", err)
		}
	}

	rows, err := s.GetHourlyRowsForDay("m1", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("GetHourlyRowsForDay failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 hourly rows, got %d", len(rows))
	}

	var sum float64
	for _, r := range rows {
		sum += r.Uptime
	}
	avg := sum / float64(len(rows))
	if avg != 50 {
		t.Errorf("expected average uptime 50, got %v", avg)
	}

	if err := s.InsertDailyRow(Bucket{MonitorID: "m1", Time: day, Uptime: avg}); err != nil {
		t.Fatalf("InsertDailyRow failed: %v", err)
	}
	last, err := s.GetLastDailyBucket("m1")
	if err != nil {
		t.Fatalf("GetLastDailyBucket failed: %v", err)
	}
	if last.Uptime != 50 {
		t.Errorf("expected daily uptime 50, got %v", last.Uptime)
	}
}

func TestPruneHourlyBuckets(t *testing.T) {
	s := newTestStore(t)

	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.InsertHourlyRow(Bucket{MonitorID: "m1", Time: day, Uptime: 100}); err != nil {
		t.Fatalf("InsertHourlyRow failed: %v", err)
	}
	if err := s.InsertHourlyRow(Bucket{MonitorID: "m1", Time: day.Add(100 * 24 * time.Hour), Uptime: 80}); err != nil {
		t.Fatalf("InsertHourlyRow failed: %v", err)
	}

	if err := s.PruneHourlyBuckets(day.Add(50 * 24 * time.Hour)); err != nil {
		t.Fatalf("PruneHourlyBuckets failed: %v", err)
	}

	rows, err := s.GetHourlyRowsForDay("m1", day, day.Add(365*24*time.Hour))
	if err != nil {
		t.Fatalf("GetHourlyRowsForDay failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 surviving hourly row after prune, got %d", len(rows))
	}
}
