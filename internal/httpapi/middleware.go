package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/agora/forum-chat/internal/auth"
)

type ctxKey int

const identityKey ctxKey = 0

// withAuth requires a valid bearer token and stores the identity in the
// request context.
func (a *API) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "Authorization: Bearer token required")
			return
		}

		identity, err := a.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "token is missing, expired or invalid")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects non-admin identities. Must run inside withAuth.
func (a *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r).IsAdmin() {
			writeError(w, http.StatusForbidden, "admin_required", "admin role required")
			return
		}
		next(w, r)
	}
}

func identityFrom(r *http.Request) auth.Identity {
	id, _ := r.Context().Value(identityKey).(auth.Identity)
	return id
}

// clientAddr is the rate limit key for unauthenticated requests.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
