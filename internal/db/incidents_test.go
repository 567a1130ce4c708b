package db

import "testing"

func TestCreateIncidentAndListByMonth(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateIncident("status-page-1", "Partial outage", "investigating", "2026-01")
	if err != nil {
		t.Fatalf("CreateIncident failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero incident id")
	}

	other, err := s.CreateIncident("status-page-1", "Past incident", "resolved", "2025-12")
	if err != nil {
		t.Fatalf("CreateIncident failed: %v", err)
	}
	_ = other

	janIncidents, err := s.ListIncidents("status-page-1", "2026-01")
	if err != nil {
		t.Fatalf("ListIncidents failed: %v", err)
	}
	if len(janIncidents) != 1 || janIncidents[0].Title != "Partial outage" {
		t.Fatalf("expected 1 incident in 2026-01, got %+v", janIncidents)
	}

	all, err := s.ListIncidents("status-page-1", "")
	if err != nil {
		t.Fatalf("ListIncidents failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 incidents total, got %d", len(all))
	}
}

func TestAddIncidentUpdate(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateIncident("status-page-1", "Degraded performance", "", "2026-01")
	if err != nil {
		t.Fatalf("CreateIncident failed: %v", err)
	}

	if err := s.AddIncidentUpdate(id, "identified root cause"); err != nil {
		t.Fatalf("AddIncidentUpdate failed: %v", err)
	}
	if err := s.AddIncidentUpdate(id, "resolved"); err != nil {
		t.Fatalf("AddIncidentUpdate failed: %v", err)
	}

	updates, err := s.GetIncidentUpdates(id)
	if err != nil {
		t.Fatalf("GetIncidentUpdates failed: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].Message != "identified root cause" || updates[1].Message != "resolved" {
		t.Fatalf("unexpected update ordering: %+v", updates)
	}
}
