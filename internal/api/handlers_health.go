package api

import (
	"net/http"
	"time"

	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/missing"
)

// Healthz is the liveness probe (§6).
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// Readyz confirms the storage backend is reachable.
func Readyz(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Healthcheck(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  "storage not reachable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	}
}

// DetectorHealth reports the missing-pulse detector's per-monitor missed
// counters (§6 `/v1/health/missing-pulse-detector`).
func DetectorHealth(detector *missing.Detector, monitorIDs func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts := make(map[string]int)
		for _, id := range monitorIDs() {
			if c := detector.MissedCount(id); c > 0 {
				counts[id] = c
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"missedCounts": counts,
		})
	}
}
