// Package requesttime pins one "now" per HTTP request so every timestamp a
// command writes (status log entry, document rows, milestone fields) agrees.
package requesttime

import (
	"net/http"
	"time"

	"iinportal/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
