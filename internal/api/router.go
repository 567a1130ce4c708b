// Package api implements the HTTP/WebSocket transport (§6): a thin surface
// over the Pulse Store, Status Evaluator, Missing-Pulse Detector and
// Realtime Broadcaster. It owns no domain state of its own.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/missing"
	"github.com/projecthelena/pulsewarden/internal/pulsestore"
	"github.com/projecthelena/pulsewarden/internal/realtime"
	"github.com/projecthelena/pulsewarden/internal/status"
)

// Deps wires every component the transport layer fronts.
type Deps struct {
	CacheMgr  *cache.Manager
	Store     *db.Store
	Pulses    *pulsestore.Service
	Evaluator *status.Evaluator
	Detector  *missing.Detector
	Hub       *realtime.Hub
}

// NewRouter builds the full HTTP router (§6).
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	pushH := NewPushHandler(d.Pulses, d.CacheMgr)
	statusH := NewStatusHandler(d.CacheMgr, d.Store, d.Evaluator)
	adminH := NewAdminHandler(d.CacheMgr, d.Store)
	wsH := NewWebSocketHandler(d.Hub, d.Pulses, d.CacheMgr)

	pushLimiter := NewIPRateLimiter(rate.Limit(5), 10)

	r.Get("/health", Healthz)
	r.Get("/v1/health/missing-pulse-detector", DetectorHealth(d.Detector, func() []string {
		snap := d.CacheMgr.Current()
		ids := make([]string, 0, len(snap.Document().Monitors))
		for _, m := range snap.Document().Monitors {
			ids = append(ids, m.ID)
		}
		return ids
	}))
	r.Get("/readyz", Readyz(d.Store))
	r.Get("/ws", wsH.Serve)

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(RateLimitMiddleware(pushLimiter)).Get("/push/{token}", pushH.Push)

		v1.Get("/status/{slug}", statusH.GetStatusPage)
		v1.Get("/status/{slug}/summary", statusH.GetSummary)
		v1.Get("/status/{slug}/incidents", statusH.GetIncidents)
		v1.Get("/monitors/{id}/history", statusH.GetMonitorHistory)
		v1.Get("/groups/{id}/history", statusH.GetGroupHistory)

		v1.Get("/reload/{token}", adminH.Reload)

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(AdminAuth(d.CacheMgr))

			admin.Get("/monitors", adminH.ListMonitors)
			admin.Post("/monitors", RejectWrite)
			admin.Put("/monitors/{id}", RejectWrite)
			admin.Delete("/monitors/{id}", RejectWrite)

			admin.Get("/groups", adminH.ListGroups)
			admin.Post("/groups", RejectWrite)
			admin.Put("/groups/{id}", RejectWrite)
			admin.Delete("/groups/{id}", RejectWrite)

			admin.Get("/status-pages", adminH.ListStatusPages)
			admin.Post("/status-pages", RejectWrite)
			admin.Put("/status-pages/{slug}", RejectWrite)
			admin.Delete("/status-pages/{slug}", RejectWrite)

			admin.Get("/notifications", adminH.ListChannels)
			admin.Post("/notifications", RejectWrite)
			admin.Put("/notifications/{id}", RejectWrite)
			admin.Delete("/notifications/{id}", RejectWrite)

			admin.Get("/configuration", adminH.GetConfiguration)

			admin.Post("/status/{slug}/incidents", adminH.CreateIncident)
			admin.Post("/incidents/{incidentId}/updates", adminH.AddIncidentUpdate)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeKindedError maps a kinds.Error to its HTTP status per §7's
// propagation policy.
func writeKindedError(w http.ResponseWriter, err error) {
	switch kinds.Of(err) {
	case kinds.BadRequest:
		writeError(w, http.StatusBadRequest, err.Error())
	case kinds.Unauthorized:
		writeError(w, http.StatusUnauthorized, err.Error())
	case kinds.NotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case kinds.Conflict:
		writeError(w, http.StatusConflict, err.Error())
	case kinds.StorageUnavailable:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func chiParamInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}
