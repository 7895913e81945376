// Package metrics holds the Prometheus collectors shared by the HTTP layer,
// the upsert engine and the database adapter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tablespec"

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route template, method and status",
	}, []string{"route", "method", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template and method",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	// UpsertRows counts spreadsheet rows written, labelled by write mode.
	UpsertRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upsert_rows_total",
		Help:      "Rows written by spreadsheet uploads",
	}, []string{"table", "mode"})

	DBErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "db_errors_total",
		Help:      "Database errors by class",
	}, []string{"class"})
)

// NewRegistry returns a registry holding the package collectors, the runtime
// collectors and any extra collectors.
func NewRegistry(cols ...prometheus.Collector) *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(HTTPRequests, HTTPDuration, UpsertRows, DBErrors)
	r.MustRegister(collectors.NewGoCollector())
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(cols...)

	return r
}
