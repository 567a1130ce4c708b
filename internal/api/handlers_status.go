package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/status"
)

// StatusHandler serves the public status-page read surface (§6).
type StatusHandler struct {
	cacheMgr *cache.Manager
	store    *db.Store
	eval     *status.Evaluator
}

func NewStatusHandler(cacheMgr *cache.Manager, store *db.Store, eval *status.Evaluator) *StatusHandler {
	return &StatusHandler{cacheMgr: cacheMgr, store: store, eval: eval}
}

// EntityDTO is one node of a status-page tree, either a monitor or a group
// (§3 Data Model: monitor and group Status/Uptime share the same shape).
type EntityDTO struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	SourceType string             `json:"sourceType"`
	Status     string             `json:"status"`
	Latency    *float64           `json:"latency,omitempty"`
	LastCheck  time.Time          `json:"lastCheck,omitempty"`
	Uptime     map[string]float64 `json:"uptime,omitempty"`
}

func entityDTO(id, name, sourceType string, d status.Data, known bool) EntityDTO {
	dto := EntityDTO{ID: id, Name: name, SourceType: sourceType, Status: string(status.Unknown)}
	if !known {
		return dto
	}
	dto.Status = string(d.Status)
	dto.Latency = d.Latency
	dto.LastCheck = d.LastCheck
	dto.Uptime = make(map[string]float64, len(d.Uptime))
	for p, v := range d.Uptime {
		dto.Uptime[string(p)] = v
	}
	return dto
}

// GetStatusPage serves `GET /v1/status/:slug`: the ordered tree of entities
// a status page lists, each with its current cached status.
func (h *StatusHandler) GetStatusPage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	snap := h.cacheMgr.Current()
	page, ok := snap.StatusPageBySlug(slug)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown status page")
		return
	}

	items := make([]EntityDTO, 0, len(page.Items))
	for _, id := range page.Items {
		items = append(items, h.entityByID(snap, id))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slug":  page.Slug,
		"name":  page.Name,
		"items": items,
	})
}

// GetSummary serves `GET /v1/status/:slug/summary`: aggregated entity
// counts by status.
func (h *StatusHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	snap := h.cacheMgr.Current()
	page, ok := snap.StatusPageBySlug(slug)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown status page")
		return
	}

	var up, degraded, down int
	for _, id := range page.Items {
		item := h.entityByID(snap, id)
		switch status.Value(item.Status) {
		case status.Up:
			up++
		case status.Degraded:
			degraded++
		case status.Down:
			down++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"up":       up,
		"degraded": degraded,
		"down":     down,
		"total":    len(page.Items),
	})
}

func (h *StatusHandler) entityByID(snap *cache.Cache, id string) EntityDTO {
	if m, ok := snap.MonitorByID(id); ok {
		d, known := h.eval.StatusCache().Get(id)
		return entityDTO(m.ID, m.Name, "monitor", d, known)
	}
	if g, ok := snap.GroupByID(id); ok {
		d, known := h.eval.StatusCache().Get(id)
		return entityDTO(g.ID, g.Name, "group", d, known)
	}
	return EntityDTO{ID: id, Status: string(status.Unknown)}
}

// HistoryPoint is one bucketed row of a history response (§6 "time-series").
type HistoryPoint struct {
	Time       time.Time `json:"time"`
	Uptime     float64   `json:"uptime"`
	LatencyAvg *float64  `json:"latencyAvg,omitempty"`
}

func bucketsToHistory(rows []db.Bucket) []HistoryPoint {
	out := make([]HistoryPoint, 0, len(rows))
	for _, b := range rows {
		hp := HistoryPoint{Time: b.Time, Uptime: b.Uptime}
		if b.LatencyAvg.Valid {
			v := b.LatencyAvg.Float64
			hp.LatencyAvg = &v
		}
		out = append(out, hp)
	}
	return out
}

// historyRange resolves a §6 period query param to a [start, now) window
// and picks hourly buckets for short windows, daily for long ones — the
// same granularity split the aggregation job (C6) maintains the two tables
// for.
func historyRange(period string, now time.Time) (start time.Time, useDaily bool, err error) {
	switch status.Period(period) {
	case status.Period1h:
		return now.Add(-time.Hour), false, nil
	case status.Period24h:
		return now.Add(-24 * time.Hour), false, nil
	case status.Period7d:
		return now.AddDate(0, 0, -7), true, nil
	case status.Period30d:
		return now.AddDate(0, 0, -30), true, nil
	case status.Period90d:
		return now.AddDate(0, 0, -90), true, nil
	case status.Period365d:
		return now.AddDate(0, 0, -365), true, nil
	default:
		return time.Time{}, false, kinds.New(kinds.BadRequest, "unknown period")
	}
}

func (h *StatusHandler) rowsForPeriod(monitorID, period string) ([]db.Bucket, error) {
	now := time.Now()
	start, useDaily, err := historyRange(period, now)
	if err != nil {
		return nil, err
	}
	if useDaily {
		return h.store.DailyRowsInRange(monitorID, start, now)
	}
	return h.store.HourlyRowsInRange(monitorID, start, now)
}

// GetMonitorHistory serves `GET /v1/monitors/:id/history?period=...`.
func (h *StatusHandler) GetMonitorHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := h.cacheMgr.Current()
	if _, ok := snap.MonitorByID(id); !ok {
		writeError(w, http.StatusNotFound, "unknown monitor")
		return
	}
	rows, err := h.rowsForPeriod(id, r.URL.Query().Get("period"))
	if err != nil {
		writeKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bucketsToHistory(rows))
}

// GetGroupHistory serves `GET /v1/groups/:id/history?period=...`: the
// unweighted mean, per bucket time, of its monitor descendants' bucketed
// uptime, since a
// group has no rows of its own in pulses_hourly/pulses_daily (those are
// monitor-keyed, §3).
func (h *StatusHandler) GetGroupHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := h.cacheMgr.Current()
	if _, ok := snap.GroupByID(id); !ok {
		writeError(w, http.StatusNotFound, "unknown group")
		return
	}

	period := r.URL.Query().Get("period")
	monitorIDs := descendantMonitors(snap, id)
	merged := map[time.Time][]float64{}
	var order []time.Time
	for _, mid := range monitorIDs {
		rows, err := h.rowsForPeriod(mid, period)
		if err != nil {
			writeKindedError(w, err)
			return
		}
		for _, b := range rows {
			if _, seen := merged[b.Time]; !seen {
				order = append(order, b.Time)
			}
			merged[b.Time] = append(merged[b.Time], b.Uptime)
		}
	}

	out := make([]HistoryPoint, 0, len(order))
	for _, t := range order {
		vals := merged[t]
		var sum float64
		for _, v := range vals {
			sum += v
		}
		out = append(out, HistoryPoint{Time: t, Uptime: sum / float64(len(vals))})
	}
	writeJSON(w, http.StatusOK, out)
}

func descendantMonitors(snap *cache.Cache, groupID string) []string {
	var out []string
	for _, childID := range snap.ChildrenOf(groupID) {
		if _, ok := snap.MonitorByID(childID); ok {
			out = append(out, childID)
			continue
		}
		if _, ok := snap.GroupByID(childID); ok {
			out = append(out, descendantMonitors(snap, childID)...)
		}
	}
	return out
}

// GetIncidents serves `GET /v1/status/:slug/incidents?month=YYYY-MM`.
func (h *StatusHandler) GetIncidents(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	snap := h.cacheMgr.Current()
	if _, ok := snap.StatusPageBySlug(slug); !ok {
		writeError(w, http.StatusNotFound, "unknown status page")
		return
	}

	incidents, err := h.store.ListIncidents(slug, r.URL.Query().Get("month"))
	if err != nil {
		writeKindedError(w, err)
		return
	}

	type incidentDTO struct {
		ID        int64     `json:"id"`
		Title     string    `json:"title"`
		Body      string    `json:"body"`
		Month     string    `json:"month"`
		CreatedAt time.Time `json:"createdAt"`
	}
	out := make([]incidentDTO, 0, len(incidents))
	for _, inc := range incidents {
		out = append(out, incidentDTO{ID: inc.ID, Title: inc.Title, Body: inc.Body, Month: inc.Month, CreatedAt: inc.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
