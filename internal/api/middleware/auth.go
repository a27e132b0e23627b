package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pagewise/hub/internal/api/response"
)

// UnauthorizedRecorder records rejected requests. Pass nil when metrics are disabled.
type UnauthorizedRecorder interface {
	RecordUnauthorized(ctx context.Context)
}

// Auth validates the static API key from the Authorization header ("Bearer <key>").
// Keys are compared as sha256 digests in constant time so neither content nor length leaks.
func Auth(apiKey string, recorder UnauthorizedRecorder) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(detail string) {
				if recorder != nil {
					recorder.RecordUnauthorized(r.Context())
				}

				slog.DebugContext(r.Context(), "auth: request rejected", "path", r.URL.Path, "reason", detail)
				response.RespondUnauthorized(w, detail)
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				reject("Missing Authorization header")

				return
			}

			scheme, key, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				reject("Invalid Authorization header format. Expected: Bearer <api-key>")

				return
			}

			key = strings.TrimSpace(key)
			if key == "" {
				reject("API key is empty")

				return
			}

			got := sha256.Sum256([]byte(key))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				reject("Invalid API key")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
