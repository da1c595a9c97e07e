// Package metrics exposes Prometheus instrumentation for scrollsync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scrollsync"

// Metrics holds the synchronizer collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Broadcasts       *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	EchoesSuppressed prometheus.Counter
	Debounced        prometheus.Counter
	StaleHandles     prometheus.Counter
	HistoryPages     prometheus.Counter
	HistoryExhausted prometheus.Counter
	PendingResumed   prometheus.Counter
	Instances        prometheus.Gauge
}

// New creates the collectors and registers them with reg. Passing nil uses a
// private registry, which keeps tests isolated from the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "broadcasts_total",
			Help:      "Leadership episodes that fanned out a scroll, by sync mode.",
		}, []string{"mode"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "dispatches_total",
			Help:      "Scroll requests sent to followers, by result.",
		}, []string{"result"}),
		EchoesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "echoes_suppressed_total",
			Help:      "Scroll notifications absorbed as echoes of a broadcast.",
		}),
		Debounced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "debounced_total",
			Help:      "Scroll notifications repeating the last seen position.",
		}),
		StaleHandles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "stale_handles_total",
			Help:      "Handles found unreachable during fan-out.",
		}),
		HistoryPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "pages_loaded_total",
			Help:      "Older history pages requested while catching up.",
		}),
		HistoryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "exhausted_total",
			Help:      "Catch-ups that ran out of history before reaching the target.",
		}),
		PendingResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "pending_resumed_total",
			Help:      "Scroll targets inherited from a replaced instance and resumed.",
		}),
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "instances",
			Help:      "Handles currently registered.",
		}),
	}

	reg.MustRegister(
		m.Broadcasts,
		m.Dispatches,
		m.EchoesSuppressed,
		m.Debounced,
		m.StaleHandles,
		m.HistoryPages,
		m.HistoryExhausted,
		m.PendingResumed,
		m.Instances,
	)
	return m
}

func (m *Metrics) ObserveBroadcast(mode string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(mode).Inc()
}

func (m *Metrics) ObserveDispatch(ok bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !ok {
		result = "failed"
	}
	m.Dispatches.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEcho() {
	if m == nil {
		return
	}
	m.EchoesSuppressed.Inc()
}

func (m *Metrics) ObserveDebounce() {
	if m == nil {
		return
	}
	m.Debounced.Inc()
}

func (m *Metrics) ObserveStale() {
	if m == nil {
		return
	}
	m.StaleHandles.Inc()
}

func (m *Metrics) ObservePages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.HistoryPages.Add(float64(n))
}

func (m *Metrics) ObserveExhausted() {
	if m == nil {
		return
	}
	m.HistoryExhausted.Inc()
}

func (m *Metrics) ObserveResume() {
	if m == nil {
		return
	}
	m.PendingResumed.Inc()
}

// SetInstances records the registry size.
func (m *Metrics) SetInstances(n int) {
	if m == nil {
		return
	}
	m.Instances.Set(float64(n))
}
