package messaging

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/gateway"
	"github.com/carelinkhq/carelink/backend/internal/model/chat"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
	"github.com/carelinkhq/carelink/backend/internal/store"
)

type fixture struct {
	svc      *Service
	registry *gateway.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	registry := gateway.NewRegistry(log)
	return fixture{
		svc:      NewService(store.NewMessageStore(db, log, 50), registry, log),
		registry: registry,
	}
}

func connect(t *testing.T, f fixture, userID string) *gateway.Sink {
	t.Helper()
	id := identity.Identity{UserID: userID, Role: identity.RoleClinician}
	sink := gateway.NewSink(id, 8, time.Second)
	f.registry.Register(id, sink)
	t.Cleanup(func() { f.registry.Unregister(sink) })
	return sink
}

func expectEvent(t *testing.T, sink *gateway.Sink, eventType string) gateway.Event {
	t.Helper()
	select {
	case ev := <-sink.Events():
		require.Equal(t, eventType, ev.Type)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no %s event received", eventType)
		return gateway.Event{}
	}
}

func TestSend_OfflineReceiverStaysSent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	msg, err := f.svc.Send(context.Background(), SendRequest{
		SenderID:   "patient-1",
		SenderRole: identity.RolePatient,
		ReceiverID: "clinician-1",
		Body:       "How are you",
	})

	req.NoError(err)
	req.Equal(chat.StatusSent, msg.Status)
}

func TestSend_OnlineReceiverGetsPushAndDelivered(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	sink := connect(t, f, "clinician-1")

	msg, err := f.svc.Send(context.Background(), SendRequest{
		SenderID:   "patient-1",
		SenderRole: identity.RolePatient,
		ReceiverID: "clinician-1",
		Body:       "How are you",
	})

	req.NoError(err)
	req.Equal(chat.StatusDelivered, msg.Status)

	ev := expectEvent(t, sink, gateway.EventMessageNew)
	payload, ok := ev.Data.(gateway.MessageNew)
	req.True(ok)
	req.Equal(msg.ID, payload.Message.ID)
	req.Equal("How are you", payload.Message.Body)
}

func TestSend_EmptyBodyWithoutAttachments(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), SendRequest{
		SenderID:   "a",
		SenderRole: identity.RolePatient,
		ReceiverID: "b",
	})
	req.ErrorIs(err, apperr.ErrValidation)
}

func TestSend_EmptyBodyWithAttachmentAllowed(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	msg, err := f.svc.Send(context.Background(), SendRequest{
		SenderID:    "a",
		SenderRole:  identity.RolePatient,
		ReceiverID:  "b",
		Attachments: []string{"https://files.example/scan.pdf"},
	})
	req.NoError(err)
	req.Equal([]string{"https://files.example/scan.pdf"}, msg.Attachments)
}

func TestMarkRead_OnlyReceiverMay(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	msg, err := f.svc.Send(context.Background(), SendRequest{
		SenderID: "a", SenderRole: identity.RolePatient, ReceiverID: "b", Body: "hi",
	})
	req.NoError(err)

	// The sender cannot mark their own message read
	_, err = f.svc.MarkRead(context.Background(), msg.ID, "a")
	req.ErrorIs(err, apperr.ErrForbidden)

	// Neither can a stranger
	_, err = f.svc.MarkRead(context.Background(), msg.ID, "z")
	req.ErrorIs(err, apperr.ErrForbidden)
}

func TestMarkRead_NotifiesSender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	senderSink := connect(t, f, "a")

	msg, err := f.svc.Send(context.Background(), SendRequest{
		SenderID: "a", SenderRole: identity.RolePatient, ReceiverID: "b", Body: "hi",
	})
	req.NoError(err)

	updated, err := f.svc.MarkRead(context.Background(), msg.ID, "b")
	req.NoError(err)
	req.Equal(chat.StatusRead, updated.Status)
	req.NotNil(updated.ReadAt)

	ev := expectEvent(t, senderSink, gateway.EventMessageRead)
	payload, ok := ev.Data.(gateway.MessageRead)
	req.True(ok)
	req.Equal(msg.ID, payload.MessageID)
}

func TestAckDelivered_OnlyReceiverMay(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	msg, err := f.svc.Send(context.Background(), SendRequest{
		SenderID: "a", SenderRole: identity.RolePatient, ReceiverID: "b", Body: "hi",
	})
	req.NoError(err)

	_, err = f.svc.AckDelivered(context.Background(), msg.ID, "a")
	req.ErrorIs(err, apperr.ErrForbidden)

	updated, err := f.svc.AckDelivered(context.Background(), msg.ID, "b")
	req.NoError(err)
	req.Equal(chat.StatusDelivered, updated.Status)
}

// The reconnect scenario: the message persists as sent while the clinician is
// offline, connecting alone changes nothing, an explicit read advances the
// status and notifies the patient.
func TestOfflineThenReadReceipt(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	patientSink := connect(t, f, "patient-1")

	// Given a message sent while the clinician is offline
	msg, err := f.svc.Send(context.Background(), SendRequest{
		SenderID:   "patient-1",
		SenderRole: identity.RolePatient,
		ReceiverID: "clinician-1",
		Body:       "How are you",
	})
	req.NoError(err)
	req.Equal(chat.StatusSent, msg.Status)

	// When the clinician connects, registration alone changes no status
	connect(t, f, "clinician-1")
	history, _, err := f.svc.History(context.Background(), "clinician-1", "patient-1", nil)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(chat.StatusSent, history[0].Status)

	// When the clinician reads it
	updated, err := f.svc.MarkRead(context.Background(), msg.ID, "clinician-1")
	req.NoError(err)
	req.Equal(chat.StatusRead, updated.Status)

	// Then the patient's presence channel gets the receipt
	expectEvent(t, patientSink, gateway.EventMessageRead)
}

func TestHistory_SameForBothParticipants(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, SendRequest{
		SenderID: "a", SenderRole: identity.RolePatient, ReceiverID: "b", Body: "hi",
	})
	req.NoError(err)

	forA, _, err := f.svc.History(ctx, "a", "b", nil)
	req.NoError(err)
	forB, _, err := f.svc.History(ctx, "b", "a", nil)
	req.NoError(err)

	req.Equal(forA, forB)
	req.Len(forA, 1)
	req.Equal(msg.ID, forA[0].ID)
}
