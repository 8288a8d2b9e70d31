// Package metrics records relay activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply statuses.
const (
	StatusOK       = "ok"
	StatusFallback = "fallback"
	StatusFailed   = "failed"
)

// Recorder owns the relay's collectors and the registry they live in.
type Recorder struct {
	registry           *prometheus.Registry
	chunkRequests      prometheus.Counter
	fragmentsTotal     prometheus.Counter
	oversizeFragments  prometheus.Counter
	repliesTotal       *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	sendErrors         prometheus.Counter
}

// NewRecorder creates a Recorder with its own registry, including Go runtime collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		chunkRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_chunk_requests_total",
			Help: "Total number of texts split into fragments",
		}),
		fragmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_fragments_total",
			Help: "Total number of fragments produced",
		}),
		oversizeFragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_oversize_fragments_total",
			Help: "Fragments longer than the limit because a single line exceeded it",
		}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_replies_total",
			Help: "Replies handled by status",
		}, []string{"status"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_generation_duration_seconds",
			Help:    "Time spent waiting for the model to produce a reply",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_send_errors_total",
			Help: "Fragments that could not be delivered",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		r.chunkRequests,
		r.fragmentsTotal,
		r.oversizeFragments,
		r.repliesTotal,
		r.generationDuration,
		r.sendErrors,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveChunk records one split.
func (r *Recorder) ObserveChunk(fragments, oversize int) {
	if r == nil {
		return
	}
	r.chunkRequests.Inc()
	r.fragmentsTotal.Add(float64(fragments))
	r.oversizeFragments.Add(float64(oversize))
}

// ObserveReply records the outcome of one inbound message.
func (r *Recorder) ObserveReply(status string) {
	if r == nil {
		return
	}
	r.repliesTotal.WithLabelValues(status).Inc()
}

// ObserveGeneration records how long the model took.
func (r *Recorder) ObserveGeneration(provider string, d time.Duration) {
	if r == nil {
		return
	}
	r.generationDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveSendError counts one failed delivery.
func (r *Recorder) ObserveSendError() {
	if r == nil {
		return
	}
	r.sendErrors.Inc()
}
