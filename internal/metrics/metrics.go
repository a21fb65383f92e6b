// Package metrics exposes Prometheus collectors for watch streams, event
// delivery and handler-bridge calls. Every method is safe on a nil Registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	registry *prometheus.Registry

	streamsStarted   prometheus.Counter
	streamsStopped   prometheus.Counter
	streamsActive    prometheus.Gauge
	contextsReleased *prometheus.CounterVec
	eventsReceived   prometheus.Counter
	eventsDelivered  *prometheus.CounterVec
	eventsSkipped    *prometheus.CounterVec
	callbackAborts   *prometheus.CounterVec
	batchSize        prometheus.Histogram
	bridgeCalls      *prometheus.CounterVec
	bridgeDuration   prometheus.Histogram
	restarts         prometheus.Counter
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		streamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nativewatch_streams_started_total",
			Help: "Native event streams started",
		}),
		streamsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nativewatch_streams_stopped_total",
			Help: "Native event streams torn down",
		}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nativewatch_streams_active",
			Help: "Native event streams currently subscribed",
		}),
		contextsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nativewatch_callback_contexts_released_total",
			Help: "Callback contexts reclaimed, by reclaiming party",
		}, []string{"by"}),
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nativewatch_events_received_total",
			Help: "Raw native events received",
		}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nativewatch_events_delivered_total",
			Help: "Classified events delivered to handlers, by kind",
		}, []string{"kind"}),
		eventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nativewatch_events_skipped_total",
			Help: "Raw events not delivered, by reason",
		}, []string{"reason"}),
		callbackAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nativewatch_callback_aborts_total",
			Help: "Native callback batches aborted by a fatal condition",
		}, []string{"reason"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nativewatch_batch_size",
			Help:    "Raw events per native callback",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		bridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nativewatch_bridge_calls_total",
			Help: "Handler bridge invocations, by method and outcome",
		}, []string{"method", "outcome"}),
		bridgeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nativewatch_bridge_call_duration_seconds",
			Help:    "Attach-invoke-detach duration",
			Buckets: prometheus.DefBuckets,
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nativewatch_stream_restarts_total",
			Help: "Streams restarted after a fatal callback abort",
		}),
	}
	r.registry.MustRegister(
		r.streamsStarted,
		r.streamsStopped,
		r.streamsActive,
		r.contextsReleased,
		r.eventsReceived,
		r.eventsDelivered,
		r.eventsSkipped,
		r.callbackAborts,
		r.batchSize,
		r.bridgeCalls,
		r.bridgeDuration,
		r.restarts,
	)
	return r
}

func (r *Registry) IncStreamStarted() {
	if r == nil {
		return
	}
	r.streamsStarted.Inc()
	r.streamsActive.Inc()
}

// IncStreamStopped records a teardown; wasStarted is false for streams that
// never subscribed.
func (r *Registry) IncStreamStopped(wasStarted bool) {
	if r == nil {
		return
	}
	r.streamsStopped.Inc()
	if wasStarted {
		r.streamsActive.Dec()
	}
}

func (r *Registry) IncContextReleased(by string) {
	if r == nil {
		return
	}
	r.contextsReleased.WithLabelValues(by).Inc()
}

func (r *Registry) ObserveBatch(size int) {
	if r == nil {
		return
	}
	r.eventsReceived.Add(float64(size))
	r.batchSize.Observe(float64(size))
}

func (r *Registry) IncDelivered(kind string) {
	if r == nil {
		return
	}
	r.eventsDelivered.WithLabelValues(kind).Inc()
}

func (r *Registry) IncSkipped(reason string) {
	if r == nil {
		return
	}
	r.eventsSkipped.WithLabelValues(reason).Inc()
}

func (r *Registry) IncCallbackAbort(reason string) {
	if r == nil {
		return
	}
	r.callbackAborts.WithLabelValues(reason).Inc()
}

func (r *Registry) RecordBridgeCall(method string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.bridgeCalls.WithLabelValues(method, outcome).Inc()
	r.bridgeDuration.Observe(duration.Seconds())
}

func (r *Registry) IncRestart() {
	if r == nil {
		return
	}
	r.restarts.Inc()
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}
