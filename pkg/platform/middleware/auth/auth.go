package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"iinportal/pkg/requestcontext"
)

// JWTValidator validates a bearer token and returns the caller it names.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims is the middleware view of a validated access token.
type JWTClaims struct {
	UserID int64
	Role   requestcontext.Role
	JTI    string
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated principal on the context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			if claims.UserID <= 0 {
				logger.WarnContext(ctx, "unauthorized access - token without subject",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			role := claims.Role
			if role != requestcontext.RoleAdmin {
				role = requestcontext.RoleApplicant
			}
			ctx = requestcontext.WithActor(ctx, claims.UserID, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
