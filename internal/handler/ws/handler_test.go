package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/carelinkhq/carelink/backend/internal/auth"
	"github.com/carelinkhq/carelink/backend/internal/gateway"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
	callservice "github.com/carelinkhq/carelink/backend/internal/service/call"
	"github.com/carelinkhq/carelink/backend/internal/service/messaging"
	"github.com/carelinkhq/carelink/backend/internal/store"
)

type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func newTestServer(t *testing.T) (*httptest.Server, *auth.Authenticator) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	registry := gateway.NewRegistry(log)
	messagingSvc := messaging.NewService(store.NewMessageStore(db, log, 50), registry, log)
	calls := callservice.NewManager(store.NewCallStore(db, log, 50), registry, messagingSvc, time.Minute, log)
	t.Cleanup(calls.Stop)

	authenticator := auth.New("test-secret", time.Hour)
	handler := New(authenticator, registry, messagingSvc, calls, []string{"*"}, 32, time.Second, log)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, authenticator
}

func dial(t *testing.T, srv *httptest.Server, authenticator *auth.Authenticator, id identity.Identity) *websocket.Conn {
	t.Helper()
	token, err := authenticator.IssueToken(id)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestGateway_RejectsMissingToken(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.Error(err)
	req.Nil(conn)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGateway_RejectsBadToken(t *testing.T) {
	req := require.New(t)
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=not-a-token"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGateway_MessageRoundTrip(t *testing.T) {
	req := require.New(t)
	srv, authenticator := newTestServer(t)

	patient := dial(t, srv, authenticator, identity.Identity{UserID: "patient-1", Role: identity.RolePatient, DisplayName: "Ada"})
	clinician := dial(t, srv, authenticator, identity.Identity{UserID: "clinician-1", Role: identity.RoleClinician, DisplayName: "Dr. Grace"})

	// When the patient sends a message over their socket
	req.NoError(patient.WriteJSON(map[string]any{
		"type":      "message:send",
		"data":      map[string]any{"receiverId": "clinician-1", "body": "hello doctor"},
		"timestamp": time.Now().UnixMilli(),
	}))

	// Then the sender gets an ack carrying the stored message
	ack := readEnvelope(t, patient)
	req.Equal("ack", ack.Type)
	var ackData struct {
		Op     string `json:"op"`
		Result struct {
			ID     string `json:"id"`
			Body   string `json:"body"`
			Status string `json:"status"`
		} `json:"result"`
	}
	req.NoError(json.Unmarshal(ack.Data, &ackData))
	req.Equal("message:send", ackData.Op)
	req.Equal("hello doctor", ackData.Result.Body)
	req.Equal("delivered", ackData.Result.Status)

	// And the clinician's socket gets the push
	push := readEnvelope(t, clinician)
	req.Equal(gateway.EventMessageNew, push.Type)
	var pushData struct {
		Message struct {
			ID       string `json:"id"`
			SenderID string `json:"senderId"`
			Body     string `json:"body"`
		} `json:"message"`
	}
	req.NoError(json.Unmarshal(push.Data, &pushData))
	req.Equal(ackData.Result.ID, pushData.Message.ID)
	req.Equal("patient-1", pushData.Message.SenderID)
	req.Equal("hello doctor", pushData.Message.Body)
}

func TestGateway_UnknownOpGetsErrorReply(t *testing.T) {
	req := require.New(t)
	srv, authenticator := newTestServer(t)
	conn := dial(t, srv, authenticator, identity.Identity{UserID: "u1", Role: identity.RolePatient})

	req.NoError(conn.WriteJSON(map[string]any{
		"type":      "message:teleport",
		"data":      map[string]any{},
		"timestamp": time.Now().UnixMilli(),
	}))

	env := readEnvelope(t, conn)
	req.Equal("error", env.Type)
	var errData struct {
		Op   string `json:"op"`
		Code string `json:"code"`
	}
	req.NoError(json.Unmarshal(env.Data, &errData))
	req.Equal("message:teleport", errData.Op)
	req.Equal("validation_error", errData.Code)
}

func TestGateway_CallInviteFlow(t *testing.T) {
	req := require.New(t)
	srv, authenticator := newTestServer(t)

	patient := dial(t, srv, authenticator, identity.Identity{UserID: "patient-1", Role: identity.RolePatient})
	clinician := dial(t, srv, authenticator, identity.Identity{UserID: "clinician-1", Role: identity.RoleClinician})

	req.NoError(patient.WriteJSON(map[string]any{
		"type":      "call:create",
		"data":      map[string]any{"peerId": "clinician-1", "callType": "video"},
		"timestamp": time.Now().UnixMilli(),
	}))

	ack := readEnvelope(t, patient)
	req.Equal("ack", ack.Type)

	invite := readEnvelope(t, clinician)
	req.Equal(gateway.EventCallInvite, invite.Type)
	var inviteData struct {
		SessionID  string `json:"sessionId"`
		FromUserID string `json:"fromUserId"`
		CallType   string `json:"callType"`
	}
	req.NoError(json.Unmarshal(invite.Data, &inviteData))
	req.NotEmpty(inviteData.SessionID)
	req.Equal("patient-1", inviteData.FromUserID)
	req.Equal("video", inviteData.CallType)

	// The callee joins over their own socket
	req.NoError(clinician.WriteJSON(map[string]any{
		"type":      "call:join",
		"data":      map[string]any{"sessionId": inviteData.SessionID},
		"timestamp": time.Now().UnixMilli(),
	}))

	joinAck := readEnvelope(t, clinician)
	req.Equal("ack", joinAck.Type)

	accepted := readEnvelope(t, patient)
	req.Equal(gateway.EventCallAccepted, accepted.Type)
}
