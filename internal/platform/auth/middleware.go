package auth

import (
	"net/http"
	"strings"

	"github.com/campusclub/api/internal/platform/httpx"
)

// MemberHeader is the request header the portal gateway uses to forward the
// authenticated member id after terminating the session.
const MemberHeader = "X-Member-Id"

// RequireMember rejects requests that arrive without a forwarded member id
// and stores the identity on the context for downstream handlers.
func RequireMember(next http.Handler) http.Handler {
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(MemberHeader))
		if userID == "" {
			httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "missing member identity", http.StatusUnauthorized))
			return
		}

		ctx := WithIdentity(r.Context(), &Identity{UserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
