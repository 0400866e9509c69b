package admin

import (
	"log/slog"
	"net/http"

	"iinportal/pkg/requestcontext"
)

// RequireAdmin lets through only callers authenticated with the admin role.
// It must run after auth.RequireAuth.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := requestcontext.Actor(ctx)
			if !actor.Role.IsAdmin() {
				logger.WarnContext(ctx, "admin route denied",
					"user_id", actor.UserID,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","error_description":"admin role required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
