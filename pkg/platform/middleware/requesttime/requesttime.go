// Package requesttime captures one "now" per request so audit events and
// domain timestamps written during the request agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"github.com/grupoexnihilo/nexus-ecclesia/pkg/requestcontext"
)

// Middleware stores the request start time in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
