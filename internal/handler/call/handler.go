package call

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/auth"
	"github.com/carelinkhq/carelink/backend/internal/model/call"
	callservice "github.com/carelinkhq/carelink/backend/internal/service/call"
	"github.com/carelinkhq/carelink/backend/pkg/utils"
)

// Handler exposes call history and notes over plain request/response; live
// lifecycle ops ride the websocket.
type Handler struct {
	calls *callservice.Manager
}

func New(calls *callservice.Manager) *Handler {
	return &Handler{calls: calls}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/calls", h.handleHistory)
	r.Put("/calls/{sessionID}/notes", h.handleUpdateNotes)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = &c
	}

	sessions, next, err := h.calls.History(r.Context(), id.UserID, cursor)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}
	if sessions == nil {
		sessions = []call.Session{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"calls":  sessions,
		"cursor": next,
	})
}

func (h *Handler) handleUpdateNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var payload struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.calls.UpdateNotes(r.Context(), chi.URLParam(r, "sessionID"), id.UserID, payload.Notes)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}
