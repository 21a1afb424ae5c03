// Package telemetry bridges inventory and queue activity onto Prometheus
// metrics, §4.10.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dsu/inventory"
)

// Metrics holds the Prometheus collectors the bridge updates.
type Metrics struct {
	registry *prometheus.Registry

	devicesTotal    prometheus.Gauge
	appendedTotal   prometheus.Counter
	removedTotal    prometheus.Counter
	updatedTotal    prometheus.Counter
	conFailTotal    prometheus.Counter
	cmdResponseRate prometheus.Counter
	pollResponses   prometheus.Counter
	queueOutcomes   *prometheus.CounterVec
	queueProgress   *prometheus.GaugeVec
}

// NewMetrics registers a fresh set of collectors on a private registry, so
// multiple Metrics instances (e.g. in tests) never collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		devicesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dsu", Name: "devices_total", Help: "Number of devices currently in the inventory.",
		}),
		appendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu", Name: "devices_appended_total", Help: "Total APPEND_DEV events observed.",
		}),
		removedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu", Name: "devices_removed_total", Help: "Total REMOVE_DEV events observed.",
		}),
		updatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu", Name: "devices_updated_total", Help: "Total UPDATE_DEV events observed.",
		}),
		conFailTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu", Name: "watchdog_con_fail_total", Help: "Total CON_FAIL (watchdog expiry) events observed.",
		}),
		cmdResponseRate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu", Name: "cmd_responses_total", Help: "Total CMD_RESPONSE events observed.",
		}),
		pollResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu", Name: "poll_responses_total", Help: "Total POLL_RESPONSE events observed.",
		}),
		queueOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dsu", Name: "queue_outcomes_total", Help: "Per-device command queue outcomes by result.",
		}, []string{"outcome"}),
		queueProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dsu", Name: "queue_progress_percent", Help: "Per-device command queue progress, 0-100.",
		}, []string{"device"}),
	}

	reg.MustRegister(m.devicesTotal, m.appendedTotal, m.removedTotal, m.updatedTotal,
		m.conFailTotal, m.cmdResponseRate, m.pollResponses, m.queueOutcomes, m.queueProgress)
	return m
}

// Handler returns an http.Handler exposing the registry in the Prometheus
// text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Subscribe wires m onto bus, updating counters/gauges as events arrive.
// Intended to be called once at startup with the live inventory's EventBus.
func (m *Metrics) Subscribe(bus *inventory.EventBus) {
	bus.Subscribe(func(e inventory.Event) {
		switch e.Type {
		case inventory.EventAppendDev:
			m.appendedTotal.Inc()
			m.devicesTotal.Inc()
		case inventory.EventRemoveDev:
			m.removedTotal.Inc()
			m.devicesTotal.Dec()
		case inventory.EventUpdateDev:
			m.updatedTotal.Inc()
		case inventory.EventConFail:
			m.conFailTotal.Inc()
		case inventory.EventCmdResponse:
			m.cmdResponseRate.Inc()
		case inventory.EventPollResponse:
			m.pollResponses.Inc()
		}
	})
}

// RecordQueueOutcome increments the queue outcome counter labeled by
// outcome's string form (OK, FAIL, TIMEOUT, SHUTDOWN).
func (m *Metrics) RecordQueueOutcome(outcome string) {
	m.queueOutcomes.WithLabelValues(outcome).Inc()
}

// SetQueueProgress publishes device's current command queue progress,
// sampled via queue.Queue.PeekProgress so the gauge never disturbs the
// "100 once, then latch to 0" observation semantics an actual caller of
// Progress relies on.
func (m *Metrics) SetQueueProgress(device string, percent int) {
	m.queueProgress.WithLabelValues(device).Set(float64(percent))
}

// DeleteQueueProgress drops device's gauge series, called once the device
// leaves the inventory so removed devices don't linger in /metrics output.
func (m *Metrics) DeleteQueueProgress(device string) {
	m.queueProgress.DeleteLabelValues(device)
}
