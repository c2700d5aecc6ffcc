// Package metrics exposes Prometheus collectors for aggregation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "twl"

// Metrics is safe to use as a nil pointer, which records nothing.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	fallbacksTotal   prometheus.Counter
	sourceOutcomes   *prometheus.CounterVec
	sourceEntries    *prometheus.CounterVec
	timelogExcluded  prometheus.Counter
	timelogFlagged   prometheus.Counter
	rejectedAccounts prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "total",
			Help:      "Aggregation runs by result.",
		},
		[]string{"result"},
	)
	reg.MustRegister(runsTotal)

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "duration_seconds",
		Help:      "Wall time of one aggregation run.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	reg.MustRegister(runDuration)

	fallbacksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "primary", Name: "fallbacks_total",
		Help: "Runs where the change feed failed and the legacy path was used.",
	})
	reg.MustRegister(fallbacksTotal)

	sourceOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "outcomes_total",
			Help:      "Per-source fetch outcomes.",
		},
		[]string{"source", "status"},
	)
	reg.MustRegister(sourceOutcomes)

	sourceEntries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "entries_total",
			Help:      "Entries contributed per source.",
		},
		[]string{"source"},
	)
	reg.MustRegister(sourceEntries)

	timelogExcluded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "timelog", Name: "excluded_entries_total",
		Help: "Issue-linked timelog entries dropped in favour of the tracker.",
	})
	reg.MustRegister(timelogExcluded)

	timelogFlagged := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "timelog", Name: "flagged_entries_total",
		Help: "Timelog entries with a non-numeric issue reference.",
	})
	reg.MustRegister(timelogFlagged)

	rejectedAccounts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "timelog", Name: "rejected_accounts_total",
		Help: "Account ids the timelog service named invalid.",
	})
	reg.MustRegister(rejectedAccounts)

	return &Metrics{
		runsTotal:        runsTotal,
		runDuration:      runDuration,
		fallbacksTotal:   fallbacksTotal,
		sourceOutcomes:   sourceOutcomes,
		sourceEntries:    sourceEntries,
		timelogExcluded:  timelogExcluded,
		timelogFlagged:   timelogFlagged,
		rejectedAccounts: rejectedAccounts,
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(result).Inc()
	m.runDuration.Observe(d.Seconds())
}

// Fallback records a switch from the change feed to the legacy path.
func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.fallbacksTotal.Inc()
}

// Source records one source's outcome and entry count.
func (m *Metrics) Source(source, status string, entries int) {
	if m == nil {
		return
	}
	m.sourceOutcomes.WithLabelValues(source, status).Inc()
	m.sourceEntries.WithLabelValues(source).Add(float64(entries))
}

// Timelog records what the timelog adapter dropped, flagged and rejected.
func (m *Metrics) Timelog(excluded, flagged, rejected int) {
	if m == nil {
		return
	}
	m.timelogExcluded.Add(float64(excluded))
	m.timelogFlagged.Add(float64(flagged))
	m.rejectedAccounts.Add(float64(rejected))
}
