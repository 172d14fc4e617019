package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-scrape-products/models"
)

// Metrics bundles Prometheus collectors for the coordinator.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	FetchDuration      prometheus.Histogram
	RecordsParsedTotal prometheus.Counter
	RetriesTotal       prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	PagesTotal         *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Fetch attempts issued by the coordinator.",
		},
		[]string{"phase"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Latency of a single fetch attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)
	recordsParsed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_parsed_total",
			Help: "Products extracted by the parser, before deduplication.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Fetch and parse failures by kind.",
		},
		[]string{"kind"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Pages finished by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, fetchDuration, recordsParsed, retries, errorsTotal, pages)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		FetchDuration:      fetchDuration,
		RecordsParsedTotal: recordsParsed,
		RetriesTotal:       retries,
		ErrorsTotal:        errorsTotal,
		PagesTotal:         pages,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a fetch duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// AddRecords adds n parsed records.
func (m *Metrics) AddRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsParsedTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for kind.
func (m *Metrics) IncError(kind models.ErrorKind) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(kind)).Inc()
}

// IncPage counts a finished page.
func (m *Metrics) IncPage(success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}
