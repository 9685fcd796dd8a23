package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error type labels used across the orchestrator.
const (
	ErrorUnsupported = "unsupported"
	ErrorResolve     = "resolve"
	ErrorCompile     = "compile"
	ErrorChain       = "chain"
	ErrorInstall     = "install"
	ErrorTeardown    = "teardown"
)

// Metrics bundles Prometheus instruments for a redirect session.
type Metrics struct {
	registry           *prometheus.Registry
	chainBound         prometheus.Gauge
	rulesInstalled     prometheus.Gauge
	errorsTotal        *prometheus.CounterVec
	nonfatalTotal      *prometheus.CounterVec
	loopGuardFallbacks prometheus.Counter
}

// NewMetrics constructs a Metrics instance with an isolated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	chainBound := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shuttlewire",
		Name:      "chain_bound",
		Help:      "Whether the session chain is bound to OUTPUT and PREROUTING (1) or not (0).",
	})

	rulesInstalled := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shuttlewire",
		Name:      "rules_installed",
		Help:      "Number of rules installed in the session chain.",
	})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shuttlewire",
		Name:      "errors_total",
		Help:      "Total number of fatal setup or teardown errors by type.",
	}, []string{"type"})

	nonfatalTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shuttlewire",
		Name:      "nonfatal_total",
		Help:      "Total number of ignored teardown step failures by step.",
	}, []string{"step"})

	loopGuardFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shuttlewire",
		Name:      "loop_guard_fallbacks_total",
		Help:      "Times redirect rules were installed without the TTL loop guard.",
	})

	registry.MustRegister(chainBound, rulesInstalled, errorsTotal, nonfatalTotal, loopGuardFallbacks)

	return &Metrics{
		registry:           registry,
		chainBound:         chainBound,
		rulesInstalled:     rulesInstalled,
		errorsTotal:        errorsTotal,
		nonfatalTotal:      nonfatalTotal,
		loopGuardFallbacks: loopGuardFallbacks,
	}
}

// SetChainBound updates the chain binding gauge.
func (m *Metrics) SetChainBound(bound bool) {
	if bound {
		m.chainBound.Set(1)
		return
	}
	m.chainBound.Set(0)
}

// SetRulesInstalled records how many rules the session chain holds.
func (m *Metrics) SetRulesInstalled(count int) {
	m.rulesInstalled.Set(float64(count))
}

// IncrementError increments the error counter for the provided type label.
func (m *Metrics) IncrementError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// NonfatalFailure counts an ignored teardown step failure.
func (m *Metrics) NonfatalFailure(step string) {
	m.nonfatalTotal.WithLabelValues(step).Inc()
}

// LoopGuardFallback counts an install that dropped the TTL guard.
func (m *Metrics) LoopGuardFallback() {
	m.loopGuardFallbacks.Inc()
}

// Handler exposes the Prometheus scrape handler bound to the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
