package authapi

import (
	"errors"
	"net/http"
	"time"

	"parley/cmd/internal/auth/session"
)

// withAuth authenticates the request from its Authorization header and
// injects the resolved identity into the request context.
//
// A valid access token is enough and costs no store round trip. When the
// access token is expired and a refresh token is present, the pair is
// rotated and the replacement is written into the response's
// Authorization header before the wrapped handler runs.
func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access, refresh, ok := pairFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer credentials")
			return
		}

		now := time.Now().UTC()
		id, pair, err := h.sessions.Validate(r.Context(), access, refresh, now)
		if err != nil {
			if errors.Is(err, session.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired credentials")
				return
			}
			h.log.Error("auth.middleware.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}

		// Headers must be staged before the handler writes the status line.
		if pair != nil {
			setPairHeader(w, *pair)
		}

		next(w, r.WithContext(session.WithIdentity(r.Context(), id)))
	}
}
