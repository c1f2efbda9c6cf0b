// Package gateway owns the in-process presence state: which users currently
// hold live connections, and how events reach them. The registry is the only
// mutable structure shared across connection handlers; nothing outside this
// package iterates it directly.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/carelinkhq/carelink/backend/internal/model/identity"
)

// OfflineFunc is invoked after a user's last connection leaves the registry,
// for presence-dependent features such as auto-cancelling a ringing call.
type OfflineFunc func(userID string)

// Registry maps user id to that user's set of live connection sinks.
// Register/Unregister are brief exclusive mutations; Deliver is a read-mostly
// fan-out. Single-process by design; a cross-process presence bus would slot
// in behind the same three operations.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]*Sink // user id -> connection id -> sink

	onOffline OfflineFunc
	log       *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]map[string]*Sink),
		log:   log,
	}
}

// OnOffline installs the presence-loss hook. Wire-up happens once at startup,
// before any connection is accepted.
func (r *Registry) OnOffline(fn OfflineFunc) {
	r.onOffline = fn
}

// Register adds a connection sink to its user's set. Idempotent per handle;
// a user may hold any number of simultaneous handles.
func (r *Registry) Register(id identity.Identity, sink *Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[id.UserID]
	if !ok {
		set = make(map[string]*Sink)
		r.conns[id.UserID] = set
	}
	set[sink.ID] = sink
}

// Unregister removes the sink from whichever user set it belongs to and
// closes it so no trailing deliveries are scheduled against it. No-op if the
// sink is already gone, tolerating duplicate disconnect signals.
func (r *Registry) Unregister(sink *Sink) {
	userID := sink.Identity.UserID

	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, present := set[sink.ID]; !present {
		r.mu.Unlock()
		return
	}
	delete(set, sink.ID)
	wentOffline := len(set) == 0
	if wentOffline {
		delete(r.conns, userID)
	}
	sink.close()
	r.mu.Unlock()

	if wentOffline && r.onOffline != nil {
		r.onOffline(userID)
	}
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Deliver pushes the event to every currently registered handle of the user
// and reports whether anyone was reachable. Handles are served on independent
// goroutines so one slow connection cannot delay the others; per-handle
// failures are dropped after the sink's own bounded timeout.
func (r *Registry) Deliver(ctx context.Context, userID string, e Event) bool {
	r.mu.RLock()
	sinks := lo.Values(r.conns[userID])
	r.mu.RUnlock()

	if len(sinks) == 0 {
		return false
	}

	var accepted atomic.Bool
	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s *Sink) {
			defer wg.Done()
			if err := s.Consume(ctx, e); err != nil {
				r.log.Warn("dropped event for connection",
					"user_id", userID,
					"connection_id", s.ID,
					"event", e.Type,
					"error", err)
				return
			}
			accepted.Store(true)
		}(s)
	}
	wg.Wait()
	return accepted.Load()
}
