package middleware

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/geneflow/internal/observability"
)

// ExtendDeadline replaces the server read and write timeouts of each request
// with d, counted from when the handler starts. Routes that stream large
// bodies use it so the server-wide timeouts can stay short. A non-positive d
// leaves the server timeouts in place.
func ExtendDeadline(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := http.NewResponseController(w)
			deadline := time.Now().Add(d)
			if err := rc.SetReadDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
				observability.Logger(r.Context()).Warn("Failed to extend read deadline", zap.Error(err))
			}
			if err := rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
				observability.Logger(r.Context()).Warn("Failed to extend write deadline", zap.Error(err))
			}
			next.ServeHTTP(w, r)
		})
	}
}
