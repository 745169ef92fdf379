package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Cache metrics, labeled by tier (kv, product, template, query, ai)
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Tag invalidations
	TagInvalidations prometheus.Counter
	InvalidatedKeys  prometheus.Counter

	// Background job metrics
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Scoring metrics
	ScoredLeads   prometheus.Counter
	ScoringErrors prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics. Call once at startup;
// promauto registers with the default registry.
func InitMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	metrics := &Metrics{
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadpulse_cache_hits_total",
			Help: "Total cache hits by tier",
		}, []string{"tier"}),

		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadpulse_cache_misses_total",
			Help: "Total cache misses by tier",
		}, []string{"tier"}),

		TagInvalidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadpulse_tag_invalidations_total",
			Help: "Total bulk tag invalidations",
		}),

		InvalidatedKeys: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadpulse_invalidated_keys_total",
			Help: "Total cache keys dropped by tag invalidation",
		}),

		JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "leadpulse_job_runs_total",
			Help: "Total background job runs by job and outcome",
		}, []string{"job", "outcome"}),

		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadpulse_job_duration_seconds",
			Help:    "Background job run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),

		ScoredLeads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadpulse_scored_leads_total",
			Help: "Total leads scored by the scoring job",
		}),

		ScoringErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "leadpulse_scoring_errors_total",
			Help: "Total scoring failures",
		}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance (nil before InitMetrics).
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordHit implements cache.HitRecorder.
func (m *Metrics) RecordHit(tier string) {
	m.CacheHits.WithLabelValues(tier).Inc()
}

// RecordMiss implements cache.HitRecorder.
func (m *Metrics) RecordMiss(tier string) {
	m.CacheMisses.WithLabelValues(tier).Inc()
}

// RecordInvalidation implements cache.InvalidationRecorder.
func (m *Metrics) RecordInvalidation(tag string, keys int) {
	m.TagInvalidations.Inc()
	m.InvalidatedKeys.Add(float64(keys))
}

// RecordLeadsScored counts leads that received a score.
func (m *Metrics) RecordLeadsScored(count int) {
	m.ScoredLeads.Add(float64(count))
}

// RecordScoringError counts failed scoring attempts.
func (m *Metrics) RecordScoringError() {
	m.ScoringErrors.Inc()
}

// RecordJobRun records one scheduler job run.
func (m *Metrics) RecordJobRun(job string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}
