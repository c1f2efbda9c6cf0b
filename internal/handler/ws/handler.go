// Package ws is the realtime gateway: one authenticated websocket per client,
// carrying client operations inbound and presence events outbound.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/carelinkhq/carelink/backend/internal/auth"
	"github.com/carelinkhq/carelink/backend/internal/gateway"
	callservice "github.com/carelinkhq/carelink/backend/internal/service/call"
	"github.com/carelinkhq/carelink/backend/internal/service/messaging"
	"github.com/carelinkhq/carelink/backend/pkg/utils"
)

type Handler struct {
	authenticator *auth.Authenticator
	registry      *gateway.Registry
	messaging     *messaging.Service
	calls         *callservice.Manager
	upgrader      websocket.Upgrader

	bufferSize      int
	deliveryTimeout time.Duration
	log             *slog.Logger
}

func New(authenticator *auth.Authenticator, registry *gateway.Registry, messagingSvc *messaging.Service, calls *callservice.Manager, origins []string, bufferSize int, deliveryTimeout time.Duration, log *slog.Logger) *Handler {
	return &Handler{
		authenticator: authenticator,
		registry:      registry,
		messaging:     messagingSvc,
		calls:         calls,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		bufferSize:      bufferSize,
		deliveryTimeout: deliveryTimeout,
		log:             log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleGateway)
}

// handleGateway authenticates the handshake, upgrades, and runs the
// connection until the client goes away. The credential rides out-of-band
// (header, cookie or query), never the payload stream; an invalid one
// rejects the connection before any event processing.
func (h *Handler) handleGateway(w http.ResponseWriter, r *http.Request) {
	id, err := h.authenticator.Validate(auth.TokenFromRequest(r))
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "invalid or missing credential")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	conn := newConnection(h, ws, id)
	conn.onEstablished()
	defer conn.onClosed()
	conn.readLoop()
}

func originChecker(origins []string) func(*http.Request) bool {
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := allowed[r.Header.Get("Origin")]
		return ok
	}
}
