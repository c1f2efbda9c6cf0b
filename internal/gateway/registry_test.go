package gateway

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
)

func testIdentity() identity.Identity {
	return identity.Identity{UserID: uuid.NewString(), Role: identity.RolePatient}
}

func TestRegistry_DeliverToRegisteredHandle(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(slog.Default())
	id := testIdentity()
	sink := NewSink(id, 4, time.Second)

	// Given a registered connection
	r.Register(id, sink)
	req.True(r.Online(id.UserID))

	// When an event is delivered
	ok := r.Deliver(context.Background(), id.UserID, Event{Type: EventMessageNew})

	// Then the handle was reachable and received it
	req.True(ok)
	select {
	case ev := <-sink.Events():
		req.Equal(EventMessageNew, ev.Type)
	default:
		t.Fatal("no event enqueued")
	}
}

func TestRegistry_DeliverToOfflineUser(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(slog.Default())

	ok := r.Deliver(context.Background(), uuid.NewString(), Event{Type: EventMessageNew})
	req.False(ok)
}

func TestRegistry_MultiDeviceFanOut(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(slog.Default())
	id := testIdentity()
	phone := NewSink(id, 4, time.Second)
	laptop := NewSink(id, 4, time.Second)

	// Given the same user on two devices
	r.Register(id, phone)
	r.Register(id, laptop)

	// When an event is delivered
	ok := r.Deliver(context.Background(), id.UserID, Event{Type: EventCallInvite})

	// Then both handles get it
	req.True(ok)
	req.Len(phone.Events(), 1)
	req.Len(laptop.Events(), 1)
}

func TestRegistry_UnregisterLastHandle(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(slog.Default())
	id := testIdentity()
	sink := NewSink(id, 4, time.Second)
	var offline []string
	r.OnOffline(func(userID string) { offline = append(offline, userID) })

	r.Register(id, sink)

	// When the only connection unregisters
	r.Unregister(sink)

	// Then the user is offline, delivery reports unreachable, the hook fired
	req.False(r.Online(id.UserID))
	req.False(r.Deliver(context.Background(), id.UserID, Event{Type: EventMessageNew}))
	req.Equal([]string{id.UserID}, offline)

	// And a duplicate disconnect signal is a no-op
	r.Unregister(sink)
	req.Equal([]string{id.UserID}, offline)
}

func TestRegistry_OfflineHookOnlyOnLastHandle(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(slog.Default())
	id := testIdentity()
	phone := NewSink(id, 4, time.Second)
	laptop := NewSink(id, 4, time.Second)
	var hookCalls int
	r.OnOffline(func(string) { hookCalls++ })

	r.Register(id, phone)
	r.Register(id, laptop)

	r.Unregister(phone)
	req.Zero(hookCalls)
	req.True(r.Online(id.UserID))

	r.Unregister(laptop)
	req.Equal(1, hookCalls)
}

func TestRegistry_ClosedSinkGetsNoTrailingDeliveries(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(slog.Default())
	id := testIdentity()
	sink := NewSink(id, 1, 10*time.Millisecond)
	r.Register(id, sink)
	r.Unregister(sink)

	// The inbox has room, but closed must win every time, not just when
	// the scheduler happens to favor the done channel.
	for i := 0; i < 200; i++ {
		err := sink.Consume(context.Background(), Event{Type: EventMessageNew})
		req.ErrorIs(err, apperr.ErrDeliveryFailed)
	}
	req.Empty(sink.Events())
}

// One artificially slow recipient must not increase the latency other
// recipients observe beyond its own handling time.
func TestRegistry_SlowHandleDoesNotStallOthers(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(slog.Default())

	slowID := testIdentity()
	// Unbuffered inbox nobody drains: delivery burns the full timeout.
	slow := NewSink(slowID, 0, 300*time.Millisecond)
	r.Register(slowID, slow)

	fastID := testIdentity()
	fast := NewSink(fastID, 4, time.Second)
	r.Register(fastID, fast)

	var wg sync.WaitGroup
	var fastLatency time.Duration
	var fastOK bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Deliver(context.Background(), slowID.UserID, Event{Type: EventMessageNew})
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		fastOK = r.Deliver(context.Background(), fastID.UserID, Event{Type: EventMessageNew})
		fastLatency = time.Since(start)
	}()
	wg.Wait()

	req.True(fastOK)
	req.Less(fastLatency, 150*time.Millisecond,
		"fast recipient was stalled behind the slow one")
}
