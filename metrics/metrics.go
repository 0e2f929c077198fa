// Package metrics bundles the Prometheus collectors shared by the enrichment components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for lookups, cache, quota and rows.
type Metrics struct {
	Registry        *prometheus.Registry
	LookupsTotal    *prometheus.CounterVec
	LookupDuration  prometheus.Histogram
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	CacheTotal      *prometheus.CounterVec
	QuotaCallsTotal prometheus.Counter
	RowsTotal       *prometheus.CounterVec
	JobsTotal       *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookprice_lookups_total",
			Help: "Bulk lookup calls issued to the pricing provider by outcome.",
		},
		[]string{"outcome"},
	)
	lookupDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookprice_lookup_duration_seconds",
			Help:    "Latency of bulk lookup HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookprice_lookup_retries_total",
			Help: "Total number of bulk lookup retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookprice_lookup_errors_total",
			Help: "Total number of bulk lookup errors by type.",
		},
		[]string{"error_type"},
	)
	cache := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookprice_cache_operations_total",
			Help: "Price cache operations by result (hit, miss, write, error).",
		},
		[]string{"result"},
	)
	quotaCalls := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookprice_quota_calls_total",
			Help: "Provider calls charged to the daily quota.",
		},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookprice_rows_total",
			Help: "Processed rows by processing status.",
		},
		[]string{"status"},
	)
	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookprice_jobs_total",
			Help: "Finished jobs by terminal status.",
		},
		[]string{"status"},
	)

	registry.MustRegister(lookups, lookupDuration, retries, errorsTotal, cache, quotaCalls, rows, jobs)

	return &Metrics{
		Registry:        registry,
		LookupsTotal:    lookups,
		LookupDuration:  lookupDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		CacheTotal:      cache,
		QuotaCallsTotal: quotaCalls,
		RowsTotal:       rows,
		JobsTotal:       jobs,
	}
}

// IncLookup increments the lookups counter.
func (m *Metrics) IncLookup(outcome string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a lookup request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.LookupDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCache increments the cache counter for a result label.
func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheTotal.WithLabelValues(result).Inc()
}

// IncQuota increments the quota calls counter.
func (m *Metrics) IncQuota() {
	if m == nil {
		return
	}
	m.QuotaCallsTotal.Inc()
}

// IncRow increments the rows counter for a status label.
func (m *Metrics) IncRow(status string) {
	if m == nil {
		return
	}
	m.RowsTotal.WithLabelValues(status).Inc()
}

// IncJob increments the jobs counter for a terminal status.
func (m *Metrics) IncJob(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}
