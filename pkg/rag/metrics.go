package rag

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xhad/askdocs/internal/models"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	answers        *prometheus.CounterVec
	answerDuration prometheus.Histogram
	ingestedChunks prometheus.Counter
	ingestFailures *prometheus.CounterVec
	storeOps       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "askdocs_answers_total",
			Help: "Answers generated, by scope used and whether the fallback answered.",
		}, []string{"scope", "degraded"}),
		answerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "askdocs_answer_duration_seconds",
			Help:    "Time to answer a question end to end.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ingestedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "askdocs_ingested_chunks_total",
			Help: "Chunks written to vector stores.",
		}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "askdocs_ingest_failures_total",
			Help: "Failed uploads, by error kind.",
		}, []string{"kind"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "askdocs_store_operations_total",
			Help: "Store management operations, by operation.",
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{m.answers, m.answerDuration, m.ingestedChunks, m.ingestFailures, m.storeOps} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) answered(scope models.Scope, degraded bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(string(scope.Kind), strconv.FormatBool(degraded)).Inc()
	m.answerDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ingested(chunks int) {
	if m == nil {
		return
	}
	m.ingestedChunks.Add(float64(chunks))
}

func (m *Metrics) ingestFailed(err error) {
	if m == nil {
		return
	}
	kind, ok := models.KindOf(err)
	if !ok {
		kind = "unknown"
	}
	m.ingestFailures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) storeOp(op string) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op).Inc()
}
