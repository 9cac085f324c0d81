// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/metrics"
)

// Rate limit categories. Windows use a sliding counter; the key is the
// authenticated subject when present, the client IP otherwise.
var rateLimits = map[string]struct {
	limit  int
	window time.Duration
}{
	"api":             {100, 15 * time.Minute},
	"auth":            {10, time.Hour},
	"payments":        {5, time.Minute},
	"messages":        {60, time.Minute},
	"session_request": {3, time.Minute},
	"uploads":         {50, time.Hour},
}

// rateLimit builds the middleware for one category.
func rateLimit(category string) func(http.Handler) http.Handler {
	cfg, ok := rateLimits[category]
	if !ok {
		cfg = rateLimits["api"]
	}
	return httprate.Limit(
		cfg.limit,
		cfg.window,
		httprate.WithKeyFuncs(keyBySubjectOrIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimited.WithLabelValues(category).Inc()
			lg := log.WithComponentFromContext(r.Context(), "api")
			lg.Warn().
				Str("category", category).
				Str("path", r.URL.Path).
				Msg("rate limit exceeded")
			writeErrorCode(w, http.StatusTooManyRequests, domain.CodeRateLimited,
				"too many requests in category "+category)
		}),
	)
}

func keyBySubjectOrIP(r *http.Request) (string, error) {
	if sub := log.SubjectFromContext(r.Context()); sub != "" {
		return sub, nil
	}
	return httprate.KeyByIP(r)
}
