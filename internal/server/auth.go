package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/asksudo-go/internal/logging"
)

// Auth failure reasons, used as the "reason" label.
const (
	authMissing = "missing"
	authInvalid = "invalid"
)

// apiKeyAuth returns chi middleware requiring "Authorization: Bearer <apiKey>".
// With an empty apiKey it returns next unchanged; New warns about that once at
// startup. The presented token is never logged. failures may be nil.
func apiKeyAuth(apiKey string, failures *prometheus.CounterVec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		want := []byte(apiKey)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))

			reason := ""
			switch {
			case !ok:
				reason = authMissing
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				reason = authInvalid
			}
			if reason == "" {
				next.ServeHTTP(w, r)
				return
			}

			if failures != nil {
				failures.WithLabelValues(reason).Inc()
			}
			logging.FromContext(r.Context()).Warn("auth: request rejected",
				slog.String("reason", reason),
				slog.String("path", r.URL.Path),
			)
			challenge := `Bearer realm="asksudo"`
			if reason == authInvalid {
				challenge += `, error="invalid_token"`
			}
			w.Header().Set("WWW-Authenticate", challenge)
			writeError(w, http.StatusUnauthorized, "a valid bearer token is required")
		})
	}
}

// bearerToken parses an Authorization header value. The scheme is matched
// case-insensitively; an empty token counts as absent.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
