// Package metrics exposes the relay's Prometheus collectors. A nil
// *Collector is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tabcast"

// Drop reasons for inbound commands.
const (
	DropQueueFull   = "queue_full"
	DropMalformed   = "malformed"
	DropRateLimited = "rate_limited"
)

type Collector struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	tickDuration    prometheus.Histogram
	framesCaptured  prometheus.Counter
	framesPublished prometheus.Counter
	frameBytes      prometheus.Gauge
	commandsApplied *prometheus.CounterVec
	commandsDropped *prometheus.CounterVec
	driverErrors    *prometheus.CounterVec
	viewersActive   prometheus.Gauge
}

// New builds a collector backed by its own registry, which also carries the
// Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Session loop iterations.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent applying a command and capturing a frame per tick.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		framesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Frames captured from the browser.",
		}),
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_published_total",
			Help:      "Captured frames that differed from the last published frame.",
		}),
		frameBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Size of the most recently published frame.",
		}),
		commandsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_applied_total",
			Help:      "Viewer commands applied to the browser.",
		}, []string{"action"}),
		commandsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Viewer commands discarded before reaching the session loop.",
		}, []string{"reason"}),
		driverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_errors_total",
			Help:      "Failed browser driver calls.",
		}, []string{"op"}),
		viewersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers_active",
			Help:      "Connected viewers.",
		}),
	}

	reg.MustRegister(
		c.ticks,
		c.tickDuration,
		c.framesCaptured,
		c.framesPublished,
		c.frameBytes,
		c.commandsApplied,
		c.commandsDropped,
		c.driverErrors,
		c.viewersActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.ticks.Inc()
	c.tickDuration.Observe(d.Seconds())
}

func (c *Collector) FrameCaptured() {
	if c == nil {
		return
	}
	c.framesCaptured.Inc()
}

func (c *Collector) FramePublished(size int) {
	if c == nil {
		return
	}
	c.framesPublished.Inc()
	c.frameBytes.Set(float64(size))
}

func (c *Collector) CommandApplied(action string) {
	if c == nil {
		return
	}
	c.commandsApplied.WithLabelValues(action).Inc()
}

func (c *Collector) CommandDropped(reason string) {
	if c == nil {
		return
	}
	c.commandsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) DriverError(op string) {
	if c == nil {
		return
	}
	c.driverErrors.WithLabelValues(op).Inc()
}

func (c *Collector) SetViewers(n int) {
	if c == nil {
		return
	}
	c.viewersActive.Set(float64(n))
}
