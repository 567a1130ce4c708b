package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/db"
)

// AdminHandler serves the bearer-token-protected admin surface (§6). CRUD
// over the configuration file's entities (monitors, groups, status pages,
// notification channels) is a thin read/reload stub here: writes belong to
// whatever external tool edits config.toml, this surface just reflects the
// live snapshot and reloads it.
type AdminHandler struct {
	cacheMgr *cache.Manager
	store    *db.Store
}

func NewAdminHandler(cacheMgr *cache.Manager, store *db.Store) *AdminHandler {
	return &AdminHandler{cacheMgr: cacheMgr, store: store}
}

// Reload serves `GET /v1/reload/:token` (§6, §12): triggers C1's
// hot-reload path, restoring the previous snapshot on failure per §9.
func (h *AdminHandler) Reload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !compareToken(h.cacheMgr.Current().Document().Admin.Token, token) {
		writeError(w, http.StatusUnauthorized, "invalid admin token")
		return
	}
	if err := h.cacheMgr.Reload(); err != nil {
		writeKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true})
}

// ListMonitors, ListGroups, ListStatusPages and ListChannels expose the
// live configuration entities read-only.
func (h *AdminHandler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cacheMgr.Current().Document().Monitors)
}

func (h *AdminHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cacheMgr.Current().Document().Groups)
}

func (h *AdminHandler) ListStatusPages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cacheMgr.Current().Document().StatusPages)
}

func (h *AdminHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cacheMgr.Current().Document().NotificationChannels)
}

// GetConfiguration returns the full parsed document as currently loaded.
func (h *AdminHandler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cacheMgr.Current().Document())
}

// RejectWrite answers any CRUD mutation on a config-file-backed entity:
// the file is the source of truth and is picked up via /v1/reload, not
// mutated through this API.
func RejectWrite(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "configuration entities are managed via config.toml and /v1/reload/:token")
}

type createIncidentRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Month string `json:"month"`
}

// CreateIncident appends an incident to a status page's persisted history
// — unlike the config-file entities above, incidents are real storage rows
// (§3 `incidents`/`incident_updates`), so this is a genuine write.
func (h *AdminHandler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, ok := h.cacheMgr.Current().StatusPageBySlug(slug); !ok {
		writeError(w, http.StatusNotFound, "unknown status page")
		return
	}

	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	id, err := h.store.CreateIncident(slug, req.Title, req.Body, req.Month)
	if err != nil {
		writeKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

type addIncidentUpdateRequest struct {
	Message string `json:"message"`
}

// AddIncidentUpdate appends a follow-up message to an existing incident.
func (h *AdminHandler) AddIncidentUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := chiParamInt64(r, "incidentId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	var req addIncidentUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.AddIncidentUpdate(id, req.Message); err != nil {
		writeKindedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}
