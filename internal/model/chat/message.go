package chat

import (
	"time"

	"github.com/carelinkhq/carelink/backend/internal/model/identity"
)

// Status is the delivery ladder of a message. It only ever moves forward.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// rank orders the ladder; unknown statuses rank below sent.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// Known reports whether s is one of the three ladder values.
func (s Status) Known() bool { return s.rank() >= 0 }

// AtOrPast reports whether s already covers the requested status, which makes
// a repeated advance an idempotent no-op.
func (s Status) AtOrPast(target Status) bool { return s.rank() >= target.rank() }

// Message is a single chat turn between two users. The record is mutated only
// to advance Status (and set ReadAt); deletion removes it entirely.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	ReceiverID     string        `json:"receiverId"`
	SenderRole     identity.Role `json:"senderRole"`
	Body           string        `json:"body"`
	Attachments    []string      `json:"attachments,omitempty"`
	Status         Status        `json:"status"`
	System         bool          `json:"system,omitempty"`
	ReadAt         *time.Time    `json:"readAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}
