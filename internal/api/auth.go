package api

import (
	"crypto/subtle"
	"net/http"

	"weelo/internal/config"
)

// HTTPAuth guards the admin API with a static API key header. Health and
// metrics endpoints stay open for probes and scrapers.
type HTTPAuth struct {
	header string
	key    string
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{header: cfg.HeaderAPIKey, key: cfg.APIKey}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get(a.header)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(a.key)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
