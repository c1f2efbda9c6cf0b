package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
)

// retryInterval paces re-attempts against a full inbox while Consume waits
// for the write pump to drain it.
const retryInterval = 5 * time.Millisecond

// Sink is one live connection's inbox. The transport layer drains Events and
// writes them to the wire; the registry enqueues into it during fan-out.
type Sink struct {
	// ID is the opaque connection handle, unique per connection so a user
	// can hold several at once (multi-device).
	ID       string
	Identity identity.Identity
	// ConnectedAt orders handles of the same user by connect time.
	ConnectedAt time.Time

	events  chan Event
	done    chan struct{}
	timeout time.Duration

	// mu serializes enqueues against close so an event can never land in
	// the inbox after the sink left the registry.
	mu     sync.Mutex
	closed bool
}

// NewSink builds a connection sink with a bounded inbox. timeout caps how
// long Consume may wait on a full inbox before dropping.
func NewSink(id identity.Identity, bufferSize int, timeout time.Duration) *Sink {
	return &Sink{
		ID:          uuid.NewString(),
		Identity:    id,
		ConnectedAt: time.Now().UTC(),
		events:      make(chan Event, bufferSize),
		done:        make(chan struct{}),
		timeout:     timeout,
	}
}

// Events is drained by the connection's write pump.
func (s *Sink) Events() <-chan Event { return s.events }

// Done is closed when the sink leaves the registry; the write pump exits on it.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Consume enqueues an event for this connection. The fast path is a
// non-blocking send into the buffered inbox; a full inbox is retried until
// the sink's own timeout and then dropped, so a stuck connection never stalls
// a caller beyond that bound. A closed sink always refuses, never a coin
// flip against a ready buffer slot.
func (s *Sink) Consume(ctx context.Context, e Event) error {
	ok, err := s.trySend(e)
	if err != nil || ok {
		return err
	}

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()
	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	for {
		select {
		case <-s.done:
			return fmt.Errorf("connection %s closed: %w", s.ID, apperr.ErrDeliveryFailed)
		case <-deadline.C:
			return fmt.Errorf("connection %s inbox full: %w", s.ID, apperr.ErrDeliveryFailed)
		case <-ctx.Done():
			return ctx.Err()
		case <-retry.C:
			if ok, err := s.trySend(e); err != nil || ok {
				return err
			}
		}
	}
}

// trySend performs one non-blocking enqueue under the close lock. Returns
// false with a nil error when the inbox is momentarily full.
func (s *Sink) trySend(e Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("connection %s closed: %w", s.ID, apperr.ErrDeliveryFailed)
	}
	select {
	case s.events <- e:
		return true, nil
	default:
		return false, nil
	}
}

// close is called by the registry exactly once, under its lock.
func (s *Sink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}
