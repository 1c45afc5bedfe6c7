// Package metrics exposes evaluation and HTTP metrics for lam serve.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry, so several collectors can live in one
// process (tests, embedded servers) without name clashes.
type Collector struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	httpRequestsTotal  *prometheus.CounterVec
	stateCommits       *prometheus.CounterVec
	stateKeys          prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		evaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of evaluations by outcome",
			},
			[]string{"status"},
		),
		evaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Evaluation wall-clock duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"code"},
		),
		stateCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_commits_total",
				Help:      "Shared state commits to the store",
			},
			[]string{"result"},
		),
		stateKeys: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state_keys",
				Help:      "Number of keys in the shared state after the last commit",
			},
		),
	}
}

// ObserveEvaluation implements executor.Observer.
func (c *Collector) ObserveEvaluation(status string, d time.Duration) {
	c.evaluationsTotal.WithLabelValues(status).Inc()
	c.evaluationDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (c *Collector) RecordRequest(code int) {
	c.httpRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordCommit counts a store commit and tracks the committed size.
func (c *Collector) RecordCommit(keys int, err error) {
	if err != nil {
		c.stateCommits.WithLabelValues("error").Inc()
		return
	}
	c.stateCommits.WithLabelValues("ok").Inc()
	c.stateKeys.Set(float64(keys))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
