package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	TrackedVehicles prometheus.Gauge
	TrackedStations prometheus.Gauge

	Polls           prometheus.Counter
	PollErrors      *prometheus.CounterVec // station label
	VehiclesDropped prometheus.Counter
	StaleCycles     prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	CycleDuration   prometheus.Histogram
	PublishDuration prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
}

func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TrackedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_vehicles",
			Help: "Vehicles in the latest derived position set.",
		}),
		TrackedStations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stations",
			Help: "Stations currently polled for departures.",
		}),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_polls_total",
			Help: "Total polling cycles.",
		}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_poll_errors_total",
			Help: "Failed departure fetches per station.",
		}, []string{"station"}),
		VehiclesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_vehicles_dropped_total",
			Help: "Departures that yielded no distinct vehicle position.",
		}),
		StaleCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_stale_cycles_total",
			Help: "Poll results discarded because a newer cycle superseded them.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_cycle_duration_seconds",
			Help:    "Duration of a full poll-and-derive cycle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_poll_interval_seconds",
			Help: "Configured polling interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.TrackedVehicles, c.TrackedStations,
		c.Polls, c.PollErrors, c.VehiclesDropped, c.StaleCycles,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.CycleDuration, c.PublishDuration,
		c.PollInterval,
	)

	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
