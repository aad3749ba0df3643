package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/ports"
)

type collectors struct {
	runsTotal   *prometheus.CounterVec
	itemsTotal  *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

var collectorsSingleton = sync.OnceValue(func() *collectors {
	return &collectors{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "runs_total",
			Help:      "Total number of harvest runs by source and status.",
		}, []string{"source", "status"}),
		itemsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "items_total",
			Help:      "Total number of imported work items by source and outcome.",
		}, []string{"source", "outcome"}),
		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "harvest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full harvest run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"source", "status"}),
		lastSuccess: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "harvest",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed run per source.",
		}, []string{"source"}),
	}
})

// Recorder exports run reports as Prometheus series on the default registry.
type Recorder struct {
	c *collectors
}

var _ ports.RunRecorder = (*Recorder)(nil)

// NewRecorder returns a recorder sharing the process-wide collectors.
func NewRecorder() *Recorder {
	return &Recorder{c: collectorsSingleton()}
}

// ObserveRun counts the run and its outcomes.
func (r *Recorder) ObserveRun(report domain.RunReport, duration time.Duration) {
	status := string(report.Status)
	r.c.runsTotal.WithLabelValues(report.SourceName, status).Inc()
	r.c.runDuration.WithLabelValues(report.SourceName, status).Observe(duration.Seconds())

	counts := map[domain.OutcomeStatus]int{
		domain.OutcomeCreated:   report.Counts.Created,
		domain.OutcomeUpdated:   report.Counts.Updated,
		domain.OutcomeUnchanged: report.Counts.Unchanged,
		domain.OutcomeDeleted:   report.Counts.Deleted,
		domain.OutcomeFailed:    report.Counts.Failed,
	}
	for outcome, n := range counts {
		if n > 0 {
			r.c.itemsTotal.WithLabelValues(report.SourceName, string(outcome)).Add(float64(n))
		}
	}

	if report.Status == domain.RunCompleted {
		finished := report.FinishedAt
		if finished.IsZero() {
			finished = time.Now()
		}
		r.c.lastSuccess.WithLabelValues(report.SourceName).Set(float64(finished.Unix()))
	}
}
