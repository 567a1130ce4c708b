package db

import (
	"database/sql"
	"testing"
	"time"
)

func TestNewStoreMigratesSQLite(t *testing.T) {
	s := newTestStore(t)
	if !s.IsSQLite() {
		t.Fatal("expected sqlite dialect")
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pulses").Scan(&count); err != nil {
		t.Fatalf("pulses table should exist after migration: %v", err)
	}
}

func TestHealthcheck(t *testing.T) {
	s := newTestStore(t)
	if err := s.Healthcheck(); err != nil {
		t.Fatalf("Healthcheck: %v", err)
	}
}

func TestRebindOnlyAffectsPostgres(t *testing.T) {
	sqlite := &Store{dialect: DialectSQLite}
	if got := sqlite.rebind("SELECT * FROM pulses WHERE monitor_id = ?"); got != "SELECT * FROM pulses WHERE monitor_id = ?" {
		t.Errorf("sqlite rebind should be a no-op, got %q", got)
	}

	pg := &Store{dialect: DialectPostgres}
	got := pg.rebind("SELECT * FROM pulses WHERE monitor_id = ? AND timestamp > ?")
	want := "SELECT * FROM pulses WHERE monitor_id = $1 AND timestamp > $2"
	if got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.InsertPulseBatch([]Pulse{{MonitorID: "m1", Timestamp: base, Latency: sql.NullFloat64{Float64: 1, Valid: true}}}); err != nil {
		t.Fatalf("InsertPulseBatch failed: %v", err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pulses").Scan(&count); err != nil {
		t.Fatalf("pulses table should exist after reset: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty pulses table after reset, got %d rows", count)
	}
}
