package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/carelinkhq/carelink/backend/internal/model/identity"
	"github.com/carelinkhq/carelink/backend/pkg/utils"
)

// CookieName carries the credential for browser clients that cannot set
// headers on a websocket handshake.
const CookieName = "carelink_token"

type ctxKey struct{}

// TokenFromRequest extracts the out-of-band credential from a request:
// Authorization bearer header, then cookie, then a token query parameter
// as the websocket fallback.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects unauthenticated requests and attaches the derived
// Identity to the request context for downstream handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Validate(TokenFromRequest(r))
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "invalid or missing credential")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// FromContext returns the Identity attached by Middleware.
func FromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(identity.Identity)
	return id, ok
}
