package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service-level prometheus collectors. A fresh set per
// server keeps tests from fighting over the default registry.
type Metrics struct {
	Questions      *prometheus.CounterVec
	AnswerLatency  prometheus.Histogram
	AnswerAttempts prometheus.Histogram
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	IngestRuns     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Questions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_questions_total",
			Help: "Questions processed, by outcome.",
		}, []string{"status"}),
		AnswerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_answer_duration_seconds",
			Help:    "Wall time to answer a question, including retries.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		AnswerAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_answer_attempts",
			Help:    "Generation attempts consumed per question.",
			Buckets: []float64{1, 2, 3},
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistant_answer_cache_hits_total",
			Help: "Answers served from the redis cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistant_answer_cache_misses_total",
			Help: "Questions that missed the answer cache.",
		}),
		IngestRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_ingest_runs_total",
			Help: "Ingest pipeline runs, by outcome.",
		}, []string{"status"}),
	}
}
