// Package notify implements the Notification Dispatcher (C5): fan-out of
// transition events to configured channels, with each sub-provider sent
// concurrently and independently (§4.5).
package notify

import (
	"context"
	"time"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/logging"
	"github.com/projecthelena/pulsewarden/internal/status"
)

var log = logging.New("notify")

const (
	queueSize       = 256
	providerTimeout = 10 * time.Second
)

// Provider is an opaque notification sink. Wire-shape details (SMTP
// envelope, Discord embed, Telegram payload, ...) are out of scope for the
// core and belong entirely to each concrete provider.
type Provider interface {
	Send(ctx context.Context, event status.Transition) error
}

type dispatchJob struct {
	channelIDs []string
	event      status.Transition
}

// Service is the Dispatcher the Status Evaluator and Missing-Pulse
// Detector emit transitions to.
type Service struct {
	cacheMgr *cache.Manager
	queue    chan dispatchJob
}

func NewService(cacheMgr *cache.Manager) *Service {
	return &Service{
		cacheMgr: cacheMgr,
		queue:    make(chan dispatchJob, queueSize),
	}
}

// Start launches the dispatch worker. Call once at process startup.
func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.run(job)
		}
	}
}

// Dispatch enqueues a fan-out job; it never blocks the caller (the
// evaluator must not stall on notification I/O). A full queue drops the
// event with a log line, matching the at-least-once/best-effort contract
// in §1's Non-goals.
func (s *Service) Dispatch(channelIDs []string, event status.Transition) {
	if len(channelIDs) == 0 {
		return
	}
	select {
	case s.queue <- dispatchJob{channelIDs: channelIDs, event: event}:
	default:
		log.Printf("dispatch queue full, dropping %s event for %s", event.Type, event.ID)
	}
}

func (s *Service) run(job dispatchJob) {
	snap := s.cacheMgr.Current()
	for _, chID := range job.channelIDs {
		ch, ok := snap.ChannelByID(chID)
		if !ok || !ch.Enabled {
			continue
		}
		providers := providersFor(ch)
		for _, p := range providers {
			p := p
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), providerTimeout)
				defer cancel()
				if err := p.Send(ctx, job.event); err != nil {
					log.Printf("notification provider failed for channel %s: %v", chID, err)
				}
			}()
		}
	}
}
