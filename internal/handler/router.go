package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carelinkhq/carelink/backend/internal/auth"
	callhandler "github.com/carelinkhq/carelink/backend/internal/handler/call"
	chathandler "github.com/carelinkhq/carelink/backend/internal/handler/chat"
	"github.com/carelinkhq/carelink/backend/internal/handler/ws"
	middlewarePkg "github.com/carelinkhq/carelink/backend/internal/middleware"
	"github.com/carelinkhq/carelink/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the realtime core. The websocket gateway
// authenticates its own handshake; the REST surface goes through the bearer
// middleware.
func NewRouter(authenticator *auth.Authenticator, wsHandler *ws.Handler, chatHandler *chathandler.Handler, callHandler *callhandler.Handler, origins []string, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(origins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	wsHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Use(authenticator.Middleware)
		chatHandler.RegisterRoutes(api)
		callHandler.RegisterRoutes(api)
	})

	return r
}
