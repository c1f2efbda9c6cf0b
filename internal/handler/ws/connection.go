package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/gateway"
	callmodel "github.com/carelinkhq/carelink/backend/internal/model/call"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
	"github.com/carelinkhq/carelink/backend/internal/service/messaging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client operations, 1:1 with the relay methods.
const (
	opMessageSend = "message:send"
	opMessageRead = "message:read"
	opMessageAck  = "message:ack"
	opCallCreate  = "call:create"
	opCallJoin    = "call:join"
	opCallEnd     = "call:end"
	opCallCancel  = "call:cancel"
	opCallSignal  = "call:signal"
)

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type ackPayload struct {
	Op     string `json:"op"`
	Result any    `json:"result,omitempty"`
}

type errorPayload struct {
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// connection binds one websocket to its presence sink. The transport invokes
// the lifecycle in order: authentication happened in the handshake,
// onEstablished registers presence and starts the write pump, onClosed
// unregisters synchronously so no trailing delivery targets a dead socket.
type connection struct {
	h        *Handler
	ws       *websocket.Conn
	identity identity.Identity
	sink     *gateway.Sink
	outbox   chan outgoingMessage
}

func newConnection(h *Handler, ws *websocket.Conn, id identity.Identity) *connection {
	return &connection{
		h:        h,
		ws:       ws,
		identity: id,
		sink:     gateway.NewSink(id, h.bufferSize, h.deliveryTimeout),
		outbox:   make(chan outgoingMessage, h.bufferSize),
	}
}

func (c *connection) onEstablished() {
	c.h.registry.Register(c.identity, c.sink)
	go c.writePump()
	c.h.log.Info("connection established",
		"user_id", c.identity.UserID,
		"role", c.identity.Role,
		"connection_id", c.sink.ID)
}

func (c *connection) onClosed() {
	c.h.registry.Unregister(c.sink)
	_ = c.ws.Close()
	c.h.log.Info("connection closed",
		"user_id", c.identity.UserID,
		"connection_id", c.sink.ID)
}

// writePump serializes all writes to the socket: registry events, direct
// replies and keepalive pings. It exits when the sink leaves the registry.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.sink.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case ev := <-c.sink.Events():
			if !c.write(outgoingMessage{Type: ev.Type, Data: ev.Data, Timestamp: time.Now().UnixMilli()}) {
				return
			}
		case msg := <-c.outbox:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) write(msg outgoingMessage) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.h.log.Warn("failed to push event",
			"user_id", c.identity.UserID,
			"connection_id", c.sink.ID,
			"error", err)
		return false
	}
	return true
}

// readLoop parses the client's RPC envelopes until the socket dies. Failures
// stay scoped to the single operation: the client gets an error reply and the
// connection lives on.
func (c *connection) readLoop() {
	c.ws.SetReadLimit(256 << 10)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in inboundMessage
		if err := c.ws.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.h.log.Warn("connection read error", "user_id", c.identity.UserID, "error", err)
			}
			return
		}
		c.dispatch(context.Background(), in)
	}
}

func (c *connection) dispatch(ctx context.Context, in inboundMessage) {
	var result any
	var err error

	switch in.Type {
	case opMessageSend:
		result, err = c.handleMessageSend(ctx, in.Data)
	case opMessageRead:
		result, err = c.handleMessageRead(ctx, in.Data)
	case opMessageAck:
		result, err = c.handleMessageAck(ctx, in.Data)
	case opCallCreate:
		result, err = c.handleCallCreate(ctx, in.Data)
	case opCallJoin:
		result, err = c.handleCallSessionOp(ctx, in.Data, c.h.calls.JoinRoom)
	case opCallEnd:
		result, err = c.handleCallSessionOp(ctx, in.Data, c.h.calls.EndCall)
	case opCallCancel:
		result, err = c.handleCallSessionOp(ctx, in.Data, c.h.calls.Cancel)
	case opCallSignal:
		result, err = c.handleCallSignal(ctx, in.Data)
	default:
		err = apperr.ErrValidation
	}

	if err != nil {
		c.reply(outgoingMessage{
			Type:      "error",
			Data:      errorPayload{Op: in.Type, Code: apperr.Code(err), Message: err.Error()},
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}
	c.reply(outgoingMessage{
		Type:      "ack",
		Data:      ackPayload{Op: in.Type, Result: result},
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *connection) reply(msg outgoingMessage) {
	select {
	case c.outbox <- msg:
	case <-c.sink.Done():
	}
}

func (c *connection) handleMessageSend(ctx context.Context, data json.RawMessage) (any, error) {
	var payload struct {
		ReceiverID  string   `json:"receiverId"`
		Body        string   `json:"body"`
		Attachments []string `json:"attachments"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}
	return c.h.messaging.Send(ctx, messaging.SendRequest{
		SenderID:    c.identity.UserID,
		SenderRole:  c.identity.Role,
		ReceiverID:  payload.ReceiverID,
		Body:        payload.Body,
		Attachments: payload.Attachments,
	})
}

func (c *connection) handleMessageRead(ctx context.Context, data json.RawMessage) (any, error) {
	id, err := messageID(data)
	if err != nil {
		return nil, err
	}
	return c.h.messaging.MarkRead(ctx, id, c.identity.UserID)
}

func (c *connection) handleMessageAck(ctx context.Context, data json.RawMessage) (any, error) {
	id, err := messageID(data)
	if err != nil {
		return nil, err
	}
	return c.h.messaging.AckDelivered(ctx, id, c.identity.UserID)
}

// handleCallCreate maps the caller's role onto the patient/clinician pair.
func (c *connection) handleCallCreate(ctx context.Context, data json.RawMessage) (any, error) {
	var payload struct {
		PeerID   string         `json:"peerId"`
		CallType callmodel.Type `json:"callType"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}

	patientID, clinicianID := payload.PeerID, c.identity.UserID
	if c.identity.Role == identity.RolePatient {
		patientID, clinicianID = c.identity.UserID, payload.PeerID
	}
	return c.h.calls.CreateRoom(ctx, patientID, clinicianID, payload.CallType, c.identity.UserID)
}

func (c *connection) handleCallSessionOp(ctx context.Context, data json.RawMessage, op func(context.Context, string, string) (callmodel.Session, error)) (any, error) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}
	if payload.SessionID == "" {
		return nil, fmt.Errorf("sessionId is required: %w", apperr.ErrValidation)
	}
	return op(ctx, payload.SessionID, c.identity.UserID)
}

func (c *connection) handleCallSignal(ctx context.Context, data json.RawMessage) (any, error) {
	var payload struct {
		SessionID string          `json:"sessionId"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}
	if payload.SessionID == "" {
		return nil, fmt.Errorf("sessionId is required: %w", apperr.ErrValidation)
	}
	if err := c.h.calls.Relay(ctx, payload.SessionID, c.identity.UserID, payload.Payload); err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": payload.SessionID}, nil
}

func messageID(data json.RawMessage) (string, error) {
	var payload struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}
	if payload.MessageID == "" {
		return "", fmt.Errorf("messageId is required: %w", apperr.ErrValidation)
	}
	return payload.MessageID, nil
}
