package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Exchange metrics
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec

	// Identity metrics
	IdentityValidationsTotal *prometheus.CounterVec
	IdentityDuration         *prometheus.HistogramVec

	// Directory metrics
	DirectoryLookupsTotal *prometheus.CounterVec
	DirectoryReloadsTotal *prometheus.CounterVec

	// Redirect metrics
	RedirectRejectionsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repogate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repogate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repogate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		ExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repogate_exchanges_total",
				Help: "Total number of credential exchanges by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		ExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repogate_exchange_duration_seconds",
				Help:    "Credential exchange duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"flow"},
		),

		IdentityValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repogate_identity_validations_total",
				Help: "Total number of identity token validations",
			},
			[]string{"validator", "result"},
		),
		IdentityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repogate_identity_validation_duration_seconds",
				Help:    "Identity validation duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"validator"},
		),

		DirectoryLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repogate_directory_lookups_total",
				Help: "Total number of directory lookups by source and result",
			},
			[]string{"source", "result"},
		),
		DirectoryReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repogate_directory_reloads_total",
				Help: "Total number of directory file reloads",
			},
			[]string{"status"},
		),

		RedirectRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "repogate_redirect_rejections_total",
				Help: "Total number of redirect_uri values rejected by the allow-list",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.ExchangesTotal,
		m.ExchangeDuration,
		m.IdentityValidationsTotal,
		m.IdentityDuration,
		m.DirectoryLookupsTotal,
		m.DirectoryReloadsTotal,
		m.RedirectRejectionsTotal,
	)

	return m
}

// RecordExchange records the outcome of one credential exchange.
// Safe to call on a nil *Metrics.
func (m *Metrics) RecordExchange(flow, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExchangesTotal.WithLabelValues(flow, outcome).Inc()
	m.ExchangeDuration.WithLabelValues(flow).Observe(duration.Seconds())
}

// RecordIdentityValidation records one validator attempt.
func (m *Metrics) RecordIdentityValidation(validator, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IdentityValidationsTotal.WithLabelValues(validator, result).Inc()
	m.IdentityDuration.WithLabelValues(validator).Observe(duration.Seconds())
}

// RecordDirectoryLookup records where a directory answer came from.
func (m *Metrics) RecordDirectoryLookup(source, result string) {
	if m == nil {
		return
	}
	m.DirectoryLookupsTotal.WithLabelValues(source, result).Inc()
}

// RecordDirectoryReload records a file directory reload attempt.
func (m *Metrics) RecordDirectoryReload(status string) {
	if m == nil {
		return
	}
	m.DirectoryReloadsTotal.WithLabelValues(status).Inc()
}

// RecordRedirectRejection counts a redirect_uri refused by policy.
func (m *Metrics) RecordRedirectRejection() {
	if m == nil {
		return
	}
	m.RedirectRejectionsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a bounded label value; nil uses the raw path.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := pathLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
