package healthcheck

import (
	"fmt"
	"net/http"

	"github.com/agglayer/callkit/log"
)

// ThrottlingReporter reports whether channel-wide retry throttling is
// currently suppressing attempts. The retrycall Throttle satisfies it.
type ThrottlingReporter interface {
	IsThrottlingActive() bool
}

// HealthCheckHandler encapsulates logic that serves the HTTP request for health checks
type HealthCheckHandler struct {
	logger   *log.Logger
	throttle ThrottlingReporter
}

var _ http.Handler = (*HealthCheckHandler)(nil)

// NewHealthCheckHandler creates a new healthcheck http handler. throttle may
// be nil when no channel is wired in.
func NewHealthCheckHandler(logger *log.Logger, throttle ThrottlingReporter) *HealthCheckHandler {
	return &HealthCheckHandler{logger: logger, throttle: throttle}
}

// ServeHTTP reports liveness plus the current retry throttling state
func (h *HealthCheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	throttlingActive := false
	if h.throttle != nil {
		throttlingActive = h.throttle.IsThrottlingActive()
	}
	response := fmt.Sprintf(`{"is_healthy": true, "throttling_active": %t}`, throttlingActive)
	if _, err := w.Write([]byte(response)); err != nil {
		h.logger.Errorf("failed to write health indicator: %v", err)
	}
}
