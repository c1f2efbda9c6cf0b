// Package messaging orchestrates chat delivery: validate, persist, then push
// to whoever is online. Persistence always happens before the realtime
// notification, so a delivered-but-unpersisted message is never observable.
package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/gateway"
	"github.com/carelinkhq/carelink/backend/internal/model/chat"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
	"github.com/carelinkhq/carelink/backend/internal/store"
)

// SendRequest is a message sending intent. The body may be empty only when
// at least one attachment reference is present.
type SendRequest struct {
	SenderID    string        `validate:"required"`
	SenderRole  identity.Role `validate:"required"`
	ReceiverID  string        `validate:"required"`
	Body        string        `validate:"required_without=Attachments"`
	Attachments []string      `validate:"omitempty,dive,required"`
	System      bool
}

type Service struct {
	store    *store.MessageStore
	registry *gateway.Registry
	validate *validator.Validate
	log      *slog.Logger
}

func NewService(store *store.MessageStore, registry *gateway.Registry, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		validate: validator.New(),
		log:      log,
	}
}

// Send persists the message with status sent and attempts a live push to the
// receiver. A successful push to at least one connection is treated as
// delivery and advances the status immediately; otherwise the message stays
// sent until the receiver pulls history or acknowledges receipt.
func (s *Service) Send(ctx context.Context, req SendRequest) (chat.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return chat.Message{}, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}

	msg, err := s.store.Append(chat.Message{
		SenderID:    req.SenderID,
		ReceiverID:  req.ReceiverID,
		SenderRole:  req.SenderRole,
		Body:        req.Body,
		Attachments: req.Attachments,
		System:      req.System,
	})
	if err != nil {
		return chat.Message{}, err
	}

	delivered := s.registry.Deliver(ctx, msg.ReceiverID, gateway.Event{
		Type: gateway.EventMessageNew,
		Data: gateway.MessageNew{Message: msg},
	})
	if !delivered {
		return msg, nil
	}

	updated, err := s.store.AdvanceStatus(msg.ID, chat.StatusDelivered)
	if err != nil {
		// The push went out; the record catches up on the next ack or read.
		s.log.Warn("failed to record delivery", "message_id", msg.ID, "error", err)
		return msg, nil
	}
	return updated, nil
}

// AckDelivered records a client receipt acknowledgment. Only the receiver may
// acknowledge.
func (s *Service) AckDelivered(ctx context.Context, messageID, requesterID string) (chat.Message, error) {
	msg, err := s.store.Get(messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.ReceiverID != requesterID {
		return chat.Message{}, fmt.Errorf("message %s is not addressed to %s: %w", messageID, requesterID, apperr.ErrForbidden)
	}
	return s.store.AdvanceStatus(messageID, chat.StatusDelivered)
}

// MarkRead advances the message to read, records the read timestamp and
// notifies the sender's presence channel with a read receipt. The receipt is
// best effort; an offline sender simply sees the status on the next pull.
func (s *Service) MarkRead(ctx context.Context, messageID, requesterID string) (chat.Message, error) {
	msg, err := s.store.Get(messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.ReceiverID != requesterID {
		return chat.Message{}, fmt.Errorf("message %s is not addressed to %s: %w", messageID, requesterID, apperr.ErrForbidden)
	}

	updated, err := s.store.AdvanceStatus(messageID, chat.StatusRead)
	if err != nil {
		return chat.Message{}, err
	}

	if updated.ReadAt != nil {
		s.registry.Deliver(ctx, updated.SenderID, gateway.Event{
			Type: gateway.EventMessageRead,
			Data: gateway.MessageRead{MessageID: updated.ID, ReadAt: *updated.ReadAt},
		})
	}
	return updated, nil
}

// History pages through the conversation between the requester and peer,
// newest first. This is the catch-up path after a reconnect.
func (s *Service) History(_ context.Context, requesterID, peerID string, cursor *string) ([]chat.Message, *string, error) {
	return s.store.ListByConversation(chat.ConversationID(requesterID, peerID), cursor)
}

// Delete removes the message entirely. Only the sender may delete.
func (s *Service) Delete(_ context.Context, messageID, requesterID string) error {
	return s.store.Delete(messageID, requesterID)
}

// PostSystemNotice drops an automated notice into the pair's conversation,
// e.g. the call trace written when a call completes.
func (s *Service) PostSystemNotice(ctx context.Context, fromID string, fromRole identity.Role, toID, body string) {
	if _, err := s.Send(ctx, SendRequest{
		SenderID:   fromID,
		SenderRole: fromRole,
		ReceiverID: toID,
		Body:       body,
		System:     true,
	}); err != nil {
		s.log.Warn("failed to post system notice", "to", toID, "error", err)
	}
}
