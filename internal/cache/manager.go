package cache

import (
	"sync"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/logging"
)

var log = logging.New("cache")

// Manager owns the live Cache pointer and performs atomic hot-reload swaps
// (§4.1). Reads take an RLock; a reload builds the entire new snapshot
// off to the side and only swaps the pointer once it succeeds, so a failed
// reload leaves the previous snapshot — and therefore the previous
// on-disk configuration's effect — untouched.
type Manager struct {
	mu   sync.RWMutex
	path string
	cur  *Cache

	subMu       sync.Mutex
	subscribers []func(*Cache)
}

// NewManager loads path, builds the initial Cache, and returns a ready
// Manager. A load or validation failure here is fatal to startup.
func NewManager(path string) (*Manager, error) {
	doc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c, err := Build(doc)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cur: c}, nil
}

// Current returns the live snapshot. Safe for concurrent use; the returned
// *Cache is immutable and may be retained across a subsequent reload.
func (m *Manager) Current() *Cache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Subscribe registers fn to be called, synchronously, with each
// successfully reloaded Cache (§4.1: "notifies live subscribers"). It is
// not called for the initial load.
func (m *Manager) Subscribe(fn func(*Cache)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Reload re-reads the configuration file, validates and rebuilds the
// indexes, and swaps them in atomically. On any failure the previous
// snapshot remains current and Reload returns the error (typically
// kinds.ConfigInvalid) without touching live state.
func (m *Manager) Reload() error {
	doc, err := config.Load(m.path)
	if err != nil {
		log.Printf("reload rejected: %v", err)
		return err
	}
	next, err := Build(doc)
	if err != nil {
		log.Printf("reload rejected: %v", err)
		return err
	}

	m.mu.Lock()
	m.cur = next
	m.mu.Unlock()

	m.subMu.Lock()
	subs := append([]func(*Cache){}, m.subscribers...)
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(next)
	}

	log.Println("configuration reloaded")
	return nil
}
