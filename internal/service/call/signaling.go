package call

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/gateway"
	"github.com/carelinkhq/carelink/backend/internal/model/call"
)

// Relay forwards an opaque signaling payload (offer/answer/candidate and the
// like) to the other participant of the session. The payload is never parsed;
// the relay only authorizes the channel. An unreachable peer reports
// ErrDeliveryFailed so the client can retry, it is not fatal.
func (m *Manager) Relay(ctx context.Context, sessionID, fromUserID string, payload json.RawMessage) error {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return err
	}
	if !sess.HasParticipant(fromUserID) {
		return fmt.Errorf("user %s is not part of session %s: %w", fromUserID, sessionID, apperr.ErrForbidden)
	}
	if sess.Status != call.StatusRinging && sess.Status != call.StatusConnected {
		return fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, apperr.ErrExpired)
	}

	reachable := m.registry.Deliver(ctx, sess.Peer(fromUserID), gateway.Event{
		Type: gateway.EventCallSignal,
		Data: gateway.CallSignal{SessionID: sessionID, FromUserID: fromUserID, Payload: payload},
	})
	if !reachable {
		return fmt.Errorf("peer of session %s unreachable: %w", sessionID, apperr.ErrDeliveryFailed)
	}
	return nil
}
