// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"errors"
	"net/http"

	"github.com/MGallo-Code/portico/internal/store"
)

// CheckHealth handles GET /health -- pings the session store and rate limiter, returns per-dependency status.
// Returns 200 if nothing is in error, 503 otherwise. A disabled limiter is not an error.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	databaseStatus := "ok"
	limiterStatus := "ok"

	if err := h.PS.CheckHealth(r.Context()); err != nil {
		logError(r, "store health check failed", "error", err)
		databaseStatus = "error"
	}
	if err := h.RL.CheckHealth(r.Context()); err != nil {
		if errors.Is(err, store.ErrCacheDisabled) {
			limiterStatus = "disabled"
		} else {
			logError(r, "rate limiter health check failed", "error", err)
			limiterStatus = "error"
		}
	}

	status := http.StatusOK
	if databaseStatus == "error" || limiterStatus == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Database    string `json:"database"`
		RateLimiter string `json:"rate_limiter"`
	}{databaseStatus, limiterStatus})
}
