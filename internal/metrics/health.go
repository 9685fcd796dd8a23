package metrics

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/denniswebb/shuttlewire/internal/logging"
)

// HealthChecker tracks readiness of a held redirect session.
type HealthChecker struct {
	mu             sync.RWMutex
	chainBound     bool
	rulesInstalled bool
	logger         *slog.Logger
}

// NewHealthChecker returns a HealthChecker using the shared logger.
func NewHealthChecker() *HealthChecker {
	logger := logging.GetLogger()
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthChecker{logger: logger}
}

// SetChainBound records whether the session chain is hooked into nat.
func (h *HealthChecker) SetChainBound(bound bool) {
	h.mu.Lock()
	h.chainBound = bound
	h.mu.Unlock()
}

// SetRulesInstalled records whether the compiled rules were appended.
func (h *HealthChecker) SetRulesInstalled(installed bool) {
	h.mu.Lock()
	h.rulesInstalled = installed
	h.mu.Unlock()
}

// IsHealthy reports whether both readiness signals are set.
func (h *HealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.chainBound && h.rulesInstalled
}

// Handler produces an HTTP handler for the /healthz endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		chainBound := h.chainBound
		rulesInstalled := h.rulesInstalled
		h.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		if chainBound && rulesInstalled {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK\n"))
			return
		}

		h.logger.Warn("redirect session not ready",
			slog.Bool("chain_bound", chainBound),
			slog.Bool("rules_installed", rulesInstalled),
		)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Service Unavailable\n"))
	})
}
