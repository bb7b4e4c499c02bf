// Package requestid assigns every request an identifier for log correlation.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"fiscus/pkg/requestcontext"
)

// Header carries the request ID in and out of the service.
const Header = "X-Request-ID"

// Middleware propagates the inbound request ID or generates one, storing it
// in the context and echoing it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), id)
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
