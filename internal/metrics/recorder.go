package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strata"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder holds the mutation counters of the draft service. A nil Recorder records nothing.
type Recorder struct {
	mutations *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	forks     *prometheus.CounterVec
	reverts   prometheus.Counter
	events    *prometheus.CounterVec
}

// NewRecorder registers the counters with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "draft mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mutation_duration_seconds",
				Help:      "time spent inside the mutation transaction",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		forks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_forks_total",
				Help:      "table versions allocated for a draft",
			},
			[]string{"kind"},
		),
		reverts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_reverts_total",
				Help:      "draft tables pointed back at their head version",
			},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "domain events published after commit",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) ObserveMutation(operation, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.mutations.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(seconds)
}

func (r *Recorder) AddForks(kind string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.forks.WithLabelValues(kind).Add(float64(count))
}

func (r *Recorder) AddReverts(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.reverts.Add(float64(count))
}

func (r *Recorder) EventPublished(eventType string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(eventType).Inc()
}
