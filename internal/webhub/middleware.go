package webhub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vinayprograms/agent/internal/sessionlock"
)

// LockChecker is the slice of sessionlock.Lock a ReadOnlyMiddleware needs.
type LockChecker interface {
	IsWriteLockedByOther() bool
	GetLockState() sessionlock.LockState
}

// ReadOnlyMiddleware enforces read-only mode when another interface holds
// the write lock: GET/HEAD/OPTIONS always pass through (observability);
// writes are rejected with 423 Locked while another interface holds it. A
// nil lock degrades to allowing everything, matching the original's
// graceful-degradation branch for an uninitialized lock.
func ReadOnlyMiddleware(lock LockChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isObservabilityMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if lock == nil {
				logger.Warn("session_lock_not_initialized", slog.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}

			if lock.IsWriteLockedByOther() {
				state := lock.GetLockState()
				holder := strings.ToUpper(string(state.Holder))
				logger.Warn("write_operation_rejected",
					slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("holder", holder))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusLocked)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "Session locked by " + holder,
					"mode":    "read-only",
					"message": "Exit " + holder + " session to enable write operations",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isObservabilityMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
