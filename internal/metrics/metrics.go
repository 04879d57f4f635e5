// Package metrics exposes Prometheus instruments for the analysis pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the service's metrics under its own registry so that
// tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted *prometheus.CounterVec
	jobsRejected  *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobsSkipped   prometheus.Counter
	jobsInFlight  prometheus.Gauge
	jobLatency    *prometheus.HistogramVec
	rateLimited   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "textpulse_jobs_submitted_total",
			Help: "Analysis jobs accepted and enqueued.",
		}, []string{"model"}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "textpulse_jobs_rejected_total",
			Help: "Submissions rejected before a job was created.",
		}, []string{"field"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "textpulse_jobs_finished_total",
			Help: "Jobs that reached a terminal status, by status.",
		}, []string{"status"}),
		jobsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "textpulse_jobs_skipped_total",
			Help: "Dequeued jobs skipped because they were no longer pending.",
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "textpulse_jobs_in_flight",
			Help: "Jobs currently being analyzed by a worker.",
		}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "textpulse_provider_latency_seconds",
			Help:    "Time spent in the analysis provider per job.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"model"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "textpulse_rate_limited_total",
			Help: "Requests rejected by a rate limiter.",
		}, []string{"class"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "textpulse_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "textpulse_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.jobsSubmitted,
		c.jobsRejected,
		c.jobsFinished,
		c.jobsSkipped,
		c.jobsInFlight,
		c.jobLatency,
		c.rateLimited,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

// Registry is exposed for tests that gather values directly.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) JobSubmitted(model string) {
	c.jobsSubmitted.WithLabelValues(model).Inc()
}

func (c *Collector) JobRejected(field string) {
	c.jobsRejected.WithLabelValues(field).Inc()
}

func (c *Collector) JobFinished(status string) {
	c.jobsFinished.WithLabelValues(status).Inc()
}

func (c *Collector) JobSkipped() {
	c.jobsSkipped.Inc()
}

// JobStarted marks a job in flight and returns a func that records provider
// latency and clears the in-flight mark.
func (c *Collector) JobStarted(model string) func() {
	c.jobsInFlight.Inc()
	start := time.Now()
	return func() {
		c.jobLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())
		c.jobsInFlight.Dec()
	}
}

func (c *Collector) RateLimited(class string) {
	c.rateLimited.WithLabelValues(class).Inc()
}

func (c *Collector) HTTPRequest(method string, code int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}
