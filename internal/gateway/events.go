package gateway

import (
	"encoding/json"
	"time"

	"github.com/carelinkhq/carelink/backend/internal/model/call"
	"github.com/carelinkhq/carelink/backend/internal/model/chat"
)

// Push event types, server to client.
const (
	EventMessageNew    = "message:new"
	EventMessageRead   = "message:read"
	EventCallInvite    = "call:invite"
	EventCallAccepted  = "call:accepted"
	EventCallSignal    = "call:signal"
	EventCallEnded     = "call:ended"
	EventCallCancelled = "call:cancelled"
)

// Event is what the registry fans out to a user's live connections. Data is
// one of the payload structs below, chosen by Type.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// MessageNew carries a freshly persisted message.
type MessageNew struct {
	Message chat.Message `json:"message"`
}

// MessageRead is the read receipt pushed back to the original sender.
type MessageRead struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

// CallInvite rings the callee.
type CallInvite struct {
	SessionID  string    `json:"sessionId"`
	FromUserID string    `json:"fromUserId"`
	CallType   call.Type `json:"callType"`
}

// CallAccepted tells the caller the callee joined.
type CallAccepted struct {
	SessionID string `json:"sessionId"`
	JoinerID  string `json:"joinerId"`
}

// CallSignal relays an opaque negotiation payload between the two session
// participants. The payload is never parsed by the core.
type CallSignal struct {
	SessionID  string          `json:"sessionId"`
	FromUserID string          `json:"fromUserId"`
	Payload    json.RawMessage `json:"payload"`
}

// CallEnded announces the completed terminal state.
type CallEnded struct {
	SessionID string        `json:"sessionId"`
	Duration  time.Duration `json:"duration"`
}

// CallCancelled announces the cancelled terminal state. Reason is "timeout",
// "offline" or "cancelled".
type CallCancelled struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}
