package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/pulsestore"
)

// PushHandler serves the public ingest endpoint (§4.2, §6).
type PushHandler struct {
	pulses   *pulsestore.Service
	cacheMgr *cache.Manager
}

func NewPushHandler(pulses *pulsestore.Service, cacheMgr *cache.Manager) *PushHandler {
	return &PushHandler{pulses: pulses, cacheMgr: cacheMgr}
}

// Push handles `GET /v1/push/:token?latency=&startTime=&endTime=&custom1=&custom2=&custom3=`.
func (h *PushHandler) Push(w http.ResponseWriter, r *http.Request) {
	req := pulsestore.Request{Token: chi.URLParam(r, "token")}

	q := r.URL.Query()
	var err error
	if req.Latency, err = queryFloat(q, "latency"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Custom1, err = queryFloat(q, "custom1"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Custom2, err = queryFloat(q, "custom2"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Custom3, err = queryFloat(q, "custom3"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StartTime, err = queryTime(q, "startTime"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.EndTime, err = queryTime(q, "endTime"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pulses.Submit(req); err != nil {
		writeKindedError(w, err)
		return
	}

	monitorID := req.Token
	if m, ok := h.cacheMgr.Current().MonitorByToken(req.Token); ok {
		monitorID = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "monitorId": monitorID})
}

func queryFloat(q map[string][]string, key string) (*float64, error) {
	raw := firstQueryValue(q, key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, kinds.New(kinds.BadRequest, key+" must be numeric")
	}
	return &v, nil
}

func queryTime(q map[string][]string, key string) (*time.Time, error) {
	raw := firstQueryValue(q, key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, kinds.New(kinds.BadRequest, key+" must be RFC3339")
	}
	return &t, nil
}

func firstQueryValue(q map[string][]string, key string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
