// Package metrics exposes Prometheus counters for the intake and worker paths.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "videobatch"

// Metrics owns its registry so tests and binaries do not share global state.
type Metrics struct {
	registry *prometheus.Registry

	submissions      *prometheus.CounterVec
	items            *prometheus.CounterVec
	submitDuration   *prometheus.HistogramVec
	dispatches       *prometheus.CounterVec
	dispatchFailures prometheus.Counter
	ledgerErrors     *prometheus.CounterVec
	tasks            *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	webhooks         *prometheus.CounterVec
	orphans          prometheus.Counter
}

// New creates the collectors and registers them, plus the Go runtime collectors.
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "batch_submissions_total",
			Help:        "Batch submissions by auth mode and outcome code.",
			ConstLabels: constLabels,
		}, []string{"mode", "outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "batch_items_total",
			Help:        "Video items accepted into batches.",
			ConstLabels: constLabels,
		}, []string{"mode"}),
		submitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "batch_submit_duration_seconds",
			Help:        "Time spent handling a batch submission.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"mode"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "dispatch_total",
			Help:        "Dispatch attempts by mode and result.",
			ConstLabels: constLabels,
		}, []string{"mode", "result"}),
		dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "dispatch_failures_total",
			Help:        "Queue pushes that gave up and left the batch to the pull worker.",
			ConstLabels: constLabels,
		}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ledger_errors_total",
			Help:        "Failed credit procedure calls by operation.",
			ConstLabels: constLabels,
		}, []string{"op"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "tasks_finished_total",
			Help:        "Video tasks that reached a terminal state.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "batch_settlements_total",
			Help:        "Batches settled by the worker, by final settlement status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "webhook_deliveries_total",
			Help:        "Outgoing batch webhooks by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "orphan_batches_deleted_total",
			Help:        "Queued batches removed by the reconciliation sweep.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.items,
		m.submitDuration,
		m.dispatches,
		m.dispatchFailures,
		m.ledgerErrors,
		m.tasks,
		m.settlements,
		m.webhooks,
		m.orphans,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// BatchSubmitted records one finished submission. items counts only accepted batches.
func (m *Metrics) BatchSubmitted(mode, outcome string, items int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(mode, outcome).Inc()
	if items > 0 {
		m.items.WithLabelValues(mode).Add(float64(items))
	}
	m.submitDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// DispatchResult implements dispatch.Observer.
func (m *Metrics) DispatchResult(mode string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
		m.dispatchFailures.Inc()
	}
	m.dispatches.WithLabelValues(mode, result).Inc()
}

// LedgerError implements ledger.ErrorObserver.
func (m *Metrics) LedgerError(op string) {
	if m == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status).Inc()
}

func (m *Metrics) BatchSettled(status string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(status).Inc()
}

func (m *Metrics) WebhookDelivered(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.webhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) OrphansDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphans.Add(float64(n))
}
