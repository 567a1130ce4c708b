// Package pulsestore implements the Pulse Store (C2): the ingest contract
// that validates and times-tamps incoming pulses, buffers them for batched
// writes, and hands off to the Status Evaluator's recompute queue and the
// Realtime Broadcaster.
package pulsestore

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"time"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/logging"
	"github.com/projecthelena/pulsewarden/internal/status"
)

var log = logging.New("pulsestore")

const (
	maxLatencyMs     = 600000
	pushWindowFuture = 60 * time.Second
	pushWindowPast   = 10 * time.Minute
)

// MissedCounterResetter is the half of the Missing-Pulse Detector's
// interface the Pulse Store depends on: a received pulse always clears the
// monitor's missed counter (§4.2, §4.4 step 4).
type MissedCounterResetter interface {
	ClearMissed(monitorID string)
}

// Broadcaster is the half of the Realtime Broadcaster's interface the Pulse
// Store depends on: every accepted pulse is published as a `pulse` event
// (§4.2, §4.8).
type Broadcaster interface {
	BroadcastPulse(monitorID string, pulse db.Pulse)
}

// Request is the ingest contract's parameter set — submitPulse(token,
// latency?, startTime?, endTime?, custom1?, custom2?, custom3?) (§4.2).
type Request struct {
	Token     string
	Latency   *float64
	StartTime *time.Time
	EndTime   *time.Time
	Custom1   *float64
	Custom2   *float64
	Custom3   *float64
}

// Service owns the write buffer and the ingest validation rules.
type Service struct {
	store    *db.Store
	cacheMgr *cache.Manager
	queue    *status.Queue
	missed   MissedCounterResetter
	bcast    Broadcaster
	now      func() time.Time

	maxBatch      int
	flushInterval time.Duration
	maxBufferSize int

	mu     sync.Mutex
	buffer []db.Pulse
}

func NewService(store *db.Store, cacheMgr *cache.Manager, queue *status.Queue, missed MissedCounterResetter, bcast Broadcaster, cfg config.PulseStore) *Service {
	return &Service{
		store:         store,
		cacheMgr:      cacheMgr,
		queue:         queue,
		missed:        missed,
		bcast:         bcast,
		now:           time.Now,
		maxBatch:      cfg.MaxBatch,
		flushInterval: cfg.FlushInterval,
		maxBufferSize: cfg.MaxBufferSize,
	}
}

// Run drives the periodic flush; a manual flush on every enqueue that
// reaches maxBatch happens independently inside Submit.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Submit validates and times a pulse per §4.2 and appends it to the write
// buffer.
func (s *Service) Submit(req Request) error {
	snap := s.cacheMgr.Current()
	m, ok := snap.MonitorByToken(req.Token)
	if !ok {
		return kinds.New(kinds.Unauthorized, "unknown monitor token")
	}

	now := s.now()
	start, end, latencyMs, err := deriveTiming(req, now)
	if err != nil {
		return err
	}

	if end.After(now.Add(pushWindowFuture)) {
		return kinds.New(kinds.BadRequest, "endTime too far in the future")
	}
	if start.Before(now.Add(-pushWindowPast)) {
		return kinds.New(kinds.BadRequest, "startTime too far in the past")
	}

	p := db.Pulse{MonitorID: m.ID, Timestamp: start}
	if latencyMs != nil {
		p.Latency = sql.NullFloat64{Float64: *latencyMs, Valid: true}
	}
	if len(m.CustomMetrics) >= 1 && req.Custom1 != nil {
		p.Custom1 = sql.NullFloat64{Float64: *req.Custom1, Valid: true}
	}
	if len(m.CustomMetrics) >= 2 && req.Custom2 != nil {
		p.Custom2 = sql.NullFloat64{Float64: *req.Custom2, Valid: true}
	}
	if len(m.CustomMetrics) >= 3 && req.Custom3 != nil {
		p.Custom3 = sql.NullFloat64{Float64: *req.Custom3, Valid: true}
	}

	s.enqueue(p)

	if s.missed != nil {
		s.missed.ClearMissed(m.ID)
	}
	s.queue.Enqueue(m.ID)
	if s.bcast != nil {
		s.bcast.BroadcastPulse(m.ID, p)
	}
	return nil
}

// deriveTiming implements §4.2's timing rules: derive whichever of
// start/end/latency is missing from whatever was supplied, falling back to
// "now" when nothing was given.
func deriveTiming(req Request, now time.Time) (start, end time.Time, latencyMs *float64, err error) {
	hasStart := req.StartTime != nil
	hasEnd := req.EndTime != nil
	hasLatency := req.Latency != nil

	var reqLatency float64
	if hasLatency {
		reqLatency, err = clampLatency(*req.Latency)
		if err != nil {
			return time.Time{}, time.Time{}, nil, err
		}
	}

	switch {
	case hasStart && hasEnd:
		start, end = *req.StartTime, *req.EndTime
		ms := float64(end.Sub(start).Milliseconds())
		if ms < 0 {
			return time.Time{}, time.Time{}, nil, kinds.New(kinds.BadRequest, "endTime precedes startTime")
		}
		ms, err = clampLatency(ms)
		if err != nil {
			return time.Time{}, time.Time{}, nil, err
		}
		return start, end, &ms, nil

	case hasStart && hasLatency:
		start = *req.StartTime
		end = start.Add(time.Duration(reqLatency) * time.Millisecond)
		return start, end, &reqLatency, nil

	case hasEnd && hasLatency:
		end = *req.EndTime
		start = end.Add(-time.Duration(reqLatency) * time.Millisecond)
		return start, end, &reqLatency, nil

	case hasStart:
		start = *req.StartTime
		end = now
		ms := float64(end.Sub(start).Milliseconds())
		if ms < 0 {
			return time.Time{}, time.Time{}, nil, kinds.New(kinds.BadRequest, "startTime is in the future")
		}
		ms, err = clampLatency(ms)
		if err != nil {
			return time.Time{}, time.Time{}, nil, err
		}
		return start, end, &ms, nil

	case hasEnd:
		end = *req.EndTime
		return end, end, nil, nil

	case hasLatency:
		end = now
		start = end.Add(-time.Duration(reqLatency) * time.Millisecond)
		return start, end, &reqLatency, nil

	default:
		start, end = now, now
		return start, end, nil, nil
	}
}

// clampLatency validates a candidate latency value and clamps anything over
// the 600,000ms cap down to it rather than rejecting it (§8's round-trip
// boundary: "Latency > 600,000 ⇒ clamped to 600,000 on storage").
func clampLatency(ms float64) (float64, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, kinds.New(kinds.BadRequest, "latency must be finite")
	}
	if ms <= 0 {
		return 0, kinds.New(kinds.BadRequest, "latency must be > 0")
	}
	if ms > maxLatencyMs {
		return maxLatencyMs, nil
	}
	return ms, nil
}

// enqueue appends to the write buffer, dropping the oldest rows with a
// warning if it overflows maxBufferSize (§4.2 failure handling), and
// triggers an immediate flush once the batch reaches maxBatch.
func (s *Service) enqueue(p db.Pulse) {
	s.mu.Lock()
	s.buffer = append(s.buffer, p)
	s.dropOverflowLocked()
	full := s.maxBatch > 0 && len(s.buffer) >= s.maxBatch
	s.mu.Unlock()

	if full {
		s.Flush()
	}
}

func (s *Service) dropOverflowLocked() {
	if s.maxBufferSize <= 0 {
		return
	}
	over := len(s.buffer) - s.maxBufferSize
	if over > 0 {
		log.Printf("pulse write buffer overflowed, dropping %d oldest pulses", over)
		s.buffer = s.buffer[over:]
	}
}

// Flush writes the current buffer as one batched insert. On failure the
// batch is retained (prepended back onto the buffer) for the next flush
// attempt (§4.2 failure handling).
func (s *Service) Flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if err := s.store.InsertPulseBatch(batch); err != nil {
		log.Printf("pulse batch insert failed, retaining %d pulses for retry: %v", len(batch), err)
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		s.dropOverflowLocked()
		s.mu.Unlock()
	}
}

// BufferLen reports the current buffer depth, used by tests and health
// reporting.
func (s *Service) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}
