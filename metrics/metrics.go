// Package metrics provides Prometheus metrics for the dispatch table and
// the handle registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/handle"
)

const namespace = "ffi"

// Collector holds all bridge metrics. It observes calls as a
// dispatch.CallObserver and handle lifecycles as a handle.Observer.
type Collector struct {
	// Call metrics
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec

	// Handle metrics
	HandlesLive   *prometheus.GaugeVec
	HandlesEvents *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of operation calls by outcome",
			},
			[]string{"operation", "status"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Operation call duration in seconds",
				Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"operation"},
		),
		HandlesLive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "handles_live",
				Help:      "Number of live object handles by type",
			},
			[]string{"type", "class"},
		),
		HandlesEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handle_events_total",
				Help:      "Total handle lifecycle events by type",
			},
			[]string{"type", "event"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful configuration reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of failed configuration reloads",
			},
		),
	}
}

// ObserveCall implements dispatch.CallObserver.
func (c *Collector) ObserveCall(operation string, status dispatch.Status, d time.Duration) {
	c.CallsTotal.WithLabelValues(operation, status.String()).Inc()
	c.CallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// OnHandleEvent implements handle.Observer.
func (c *Collector) OnHandleEvent(e handle.Event) {
	c.HandlesEvents.WithLabelValues(e.TypeName, e.Type.String()).Inc()
	live := c.HandlesLive.WithLabelValues(e.TypeName, e.Class.String())
	switch e.Type {
	case handle.EventCreated:
		live.Inc()
	case handle.EventReleased:
		live.Dec()
	}
}

// ConfigReloaded records the outcome of a configuration reload.
func (c *Collector) ConfigReloaded(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
}

var (
	_ dispatch.CallObserver = (*Collector)(nil)
	_ handle.Observer       = (*Collector)(nil)
)
