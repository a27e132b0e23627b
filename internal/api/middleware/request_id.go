package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pagewise/hub/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// Upper bound on a client supplied request id; longer values are replaced.
const maxRequestIDLen = 128

// RequestID must wrap every other middleware. It adopts a well-formed client X-Request-ID or mints
// a UUIDv7, stores it on the context for log correlation and echoes it back in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.Must(uuid.NewV7()).String()
		}

		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

// validRequestID accepts non-empty printable ASCII without spaces, so ids are safe to log verbatim.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}

	for i := range len(id) {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}

	return true
}
