package db

import (
	"time"

	"github.com/projecthelena/pulsewarden/internal/kinds"
)

// Incident is a status-page incident post; message history lives in
// IncidentUpdate rows (§3, §6).
type Incident struct {
	ID             int64
	StatusPageSlug string
	Title          string
	Body           string
	Month          string // "YYYY-MM", matches §6's ?month= filter
	CreatedAt      time.Time
}

// IncidentUpdate is a follow-up message appended to an incident.
type IncidentUpdate struct {
	ID         int64
	IncidentID int64
	Message    string
	CreatedAt  time.Time
}

// CreateIncident inserts a new incident and returns its generated ID.
func (s *Store) CreateIncident(slug, title, body, month string) (int64, error) {
	if s.IsPostgres() {
		var id int64
		row := s.db.QueryRow(s.rebind(`
			INSERT INTO incidents (status_page_slug, title, body, month)
			VALUES (?, ?, ?, ?) RETURNING id
		`), slug, title, body, month)
		if err := row.Scan(&id); err != nil {
			return 0, kinds.Wrap(kinds.StorageUnavailable, "insert incident", err)
		}
		return id, nil
	}

	res, err := s.db.Exec(s.rebind(`
		INSERT INTO incidents (status_page_slug, title, body, month) VALUES (?, ?, ?, ?)
	`), slug, title, body, month)
	if err != nil {
		return 0, kinds.Wrap(kinds.StorageUnavailable, "insert incident", err)
	}
	return res.LastInsertId()
}

// AddIncidentUpdate appends a follow-up message to an incident.
func (s *Store) AddIncidentUpdate(incidentID int64, message string) error {
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO incident_updates (incident_id, message) VALUES (?, ?)
	`), incidentID, message)
	if err != nil {
		return kinds.Wrap(kinds.StorageUnavailable, "insert incident update", err)
	}
	return nil
}

// ListIncidents returns incidents for a status page, optionally filtered by
// month ("" means all months), most recent first.
func (s *Store) ListIncidents(slug, month string) ([]Incident, error) {
	query := `
		SELECT id, status_page_slug, title, body, month, created_at
		FROM incidents WHERE status_page_slug = ?
	`
	args := []any{slug}
	if month != "" {
		query += " AND month = ?"
		args = append(args, month)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, kinds.Wrap(kinds.StorageUnavailable, "list incidents", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(&inc.ID, &inc.StatusPageSlug, &inc.Title, &inc.Body, &inc.Month, &inc.CreatedAt); err != nil {
			return nil, kinds.Wrap(kinds.StorageUnavailable, "scan incident row", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// GetIncidentUpdates returns the follow-up messages for an incident, in
// chronological order.
func (s *Store) GetIncidentUpdates(incidentID int64) ([]IncidentUpdate, error) {
	rows, err := s.db.Query(s.rebind(`
		SELECT id, incident_id, message, created_at
		FROM incident_updates WHERE incident_id = ? ORDER BY created_at ASC
	`), incidentID)
	if err != nil {
		return nil, kinds.Wrap(kinds.StorageUnavailable, "list incident updates", err)
	}
	defer rows.Close()

	var out []IncidentUpdate
	for rows.Next() {
		var u IncidentUpdate
		if err := rows.Scan(&u.ID, &u.IncidentID, &u.Message, &u.CreatedAt); err != nil {
			return nil, kinds.Wrap(kinds.StorageUnavailable, "scan incident update row", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
