package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cothink/internal/logging"
)

// Registry hands out per-user controllers, creating them on first
// contact and evicting idle ones. Eviction runs a best-effort
// EndSession so a user who walks away still gets a session record.
type Registry struct {
	factory     func(userKey string) (*Controller, error)
	idleTTL     time.Duration
	maxSessions int
	sweepEvery  time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type sessionEntry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// RegistryConfig tunes the registry; zero values select defaults.
type RegistryConfig struct {
	IdleTTL     time.Duration // default 30m
	MaxSessions int           // default 256
	SweepEvery  time.Duration // default IdleTTL / 4
}

// NewRegistry starts the registry and its janitor goroutine.
func NewRegistry(factory func(userKey string) (*Controller, error), cfg RegistryConfig) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 256
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = cfg.IdleTTL / 4
	}

	r := &Registry{
		factory:     factory,
		idleTTL:     cfg.IdleTTL,
		maxSessions: cfg.MaxSessions,
		sweepEvery:  cfg.SweepEvery,
		sessions:    make(map[string]*sessionEntry),
		done:        make(chan struct{}),
	}
	r.wg.Add(1)
	go r.janitor()
	return r
}

// Get returns the controller for userKey, creating it on first contact.
func (r *Registry) Get(userKey string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.sessions[userKey]; ok {
		entry.lastSeen = time.Now()
		return entry.ctrl, nil
	}

	if len(r.sessions) >= r.maxSessions {
		r.evictOldestLocked()
	}

	ctrl, err := r.factory(userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %q: %w", userKey, err)
	}
	r.sessions[userKey] = &sessionEntry{ctrl: ctrl, lastSeen: time.Now()}
	logging.Session("registry created session for %q (%d active)", userKey, len(r.sessions))
	return ctrl, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// evictOldestLocked drops the least recently used session. Caller holds
// the lock.
func (r *Registry) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range r.sessions {
		if oldestKey == "" || entry.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = entry.lastSeen
		}
	}
	if oldestKey != "" {
		r.closeEntryLocked(oldestKey)
	}
}

// closeEntryLocked ends and removes one session. Caller holds the lock;
// EndSession runs with its own deadline.
func (r *Registry) closeEntryLocked(key string) {
	entry := r.sessions[key]
	delete(r.sessions, key)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	entry.ctrl.EndSession(ctx)
	entry.ctrl.Close()
	logging.Session("registry evicted session %q", key)
}

// janitor periodically evicts sessions idle past the TTL.
func (r *Registry) janitor() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for key, entry := range r.sessions {
				if now.Sub(entry.lastSeen) > r.idleTTL {
					r.closeEntryLocked(key)
				}
			}
			r.mu.Unlock()
		}
	}
}

// Close stops the janitor and ends every live session.
func (r *Registry) Close() {
	r.once.Do(func() {
		close(r.done)
	})
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.sessions {
		r.closeEntryLocked(key)
	}
}
