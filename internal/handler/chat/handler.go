package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/auth"
	"github.com/carelinkhq/carelink/backend/internal/model/chat"
	"github.com/carelinkhq/carelink/backend/internal/service/messaging"
	"github.com/carelinkhq/carelink/backend/pkg/utils"
)

// Handler is the request/response twin of the websocket messaging ops, used
// for catch-up after reconnect and by clients without a live socket.
type Handler struct {
	messaging *messaging.Service
}

func New(messagingSvc *messaging.Service) *Handler {
	return &Handler{messaging: messagingSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{peerID}/messages", h.handleHistory)
	r.Post("/messages", h.handleSend)
	r.Post("/messages/{messageID}/read", h.handleMarkRead)
	r.Post("/messages/{messageID}/delivered", h.handleAckDelivered)
	r.Delete("/messages/{messageID}", h.handleDelete)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	peerID := chi.URLParam(r, "peerID")

	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = &c
	}

	messages, next, err := h.messaging.History(r.Context(), id.UserID, peerID, cursor)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"cursor":   next,
	})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var payload struct {
		ReceiverID  string   `json:"receiverId"`
		Body        string   `json:"body"`
		Attachments []string `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messaging.Send(r.Context(), messaging.SendRequest{
		SenderID:    id.UserID,
		SenderRole:  id.Role,
		ReceiverID:  payload.ReceiverID,
		Body:        payload.Body,
		Attachments: payload.Attachments,
	})
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, h.messaging.MarkRead)
}

func (h *Handler) handleAckDelivered(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, h.messaging.AckDelivered)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, messageID, requesterID string) (chat.Message, error)) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	msg, err := op(r.Context(), chi.URLParam(r, "messageID"), id.UserID)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if err := h.messaging.Delete(r.Context(), chi.URLParam(r, "messageID"), id.UserID); err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
