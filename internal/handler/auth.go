package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/GaryWong163/Online-shop/internal/identity"
)

// Authenticate attaches the caller identity when the request carries a
// valid token. An invalid token is logged and the request continues as a
// guest, so checkout never fails on a stale session.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Identity == nil {
			next.ServeHTTP(w, r)
			return
		}
		id, err := h.Identity.FromRequest(r)
		switch {
		case err == nil:
			r = r.WithContext(identity.WithIdentity(r.Context(), id))
		case !errors.Is(err, identity.ErrNoToken):
			zctx.From(r.Context()).Debug("Ignoring invalid identity token", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser answers 401 to guests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.FromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin answers 401 to guests and 403 to non-admin identities.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromContext(r.Context())
		switch {
		case id == nil:
			writeError(w, http.StatusUnauthorized, "authentication required")
		case !id.IsAdmin():
			writeError(w, http.StatusForbidden, "admin role required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}
