// Package metrics exposes ledger events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/stock-ledger/stock"
)

const namespace = "stock_ledger"

// Ledger implements stock.Recorder on its own registry.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Ledger struct {
	registry *prometheus.Registry

	linesSkipped   *prometheus.CounterVec
	debitsClamped  *prometheus.CounterVec
	replayRuns     *prometheus.CounterVec
	replayDuration prometheus.Histogram
}

// New creates the collectors. Process and Go runtime collectors are added
// when withRuntime is set.
func New(withRuntime bool) *Ledger {
	l := &Ledger{
		registry: prometheus.NewRegistry(),
		linesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_skipped_total",
			Help:      "Document lines that had no stock effect, by engine and reason.",
		}, []string{"engine", "reason"}),
		debitsClamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_clamped_total",
			Help:      "Debits that would have driven a remaining balance below zero.",
		}, []string{"engine"}),
		replayRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_runs_total",
			Help:      "Completed RebuildAll runs by final status.",
		}, []string{"status"}),
		replayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replay_duration_seconds",
			Help:      "Duration of RebuildAll runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}

	l.registry.MustRegister(l.linesSkipped, l.debitsClamped, l.replayRuns, l.replayDuration)
	if withRuntime {
		l.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return l
}

func (l *Ledger) LineSkipped(engine, reason string) {
	l.linesSkipped.WithLabelValues(engine, reason).Inc()
}

func (l *Ledger) Clamped(engine string) {
	l.debitsClamped.WithLabelValues(engine).Inc()
}

func (l *Ledger) ReplayFinished(status stock.RunStatus, d time.Duration) {
	l.replayRuns.WithLabelValues(string(status)).Inc()
	l.replayDuration.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (l *Ledger) Registry() *prometheus.Registry { return l.registry }

// Handler serves the registry in the Prometheus text format.
func (l *Ledger) Handler() http.Handler {
	return promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{Registry: l.registry})
}

var _ stock.Recorder = (*Ledger)(nil)
