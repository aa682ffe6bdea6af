// Package telemetry exposes the exporter's own health as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll results, used as the "result" label.
const (
	ResultOK             = "ok"
	ResultSourceError    = "source_error"
	ResultNormalizeError = "normalize_error"
	ResultWriteError     = "write_error"
)

// Recorder tracks poll cycle outcomes.
type Recorder struct {
	polls       *prometheus.CounterVec
	duration    prometheus.Histogram
	watts       *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	gatherer    prometheus.Gatherer
}

// New registers the exporter's collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apcupsd_influx_polls_total",
				Help: "Poll cycles by outcome.",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "apcupsd_influx_poll_duration_seconds",
			Help:    "Time spent on one poll cycle, from status request to write.",
			Buckets: prometheus.DefBuckets,
		}),
		watts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apcupsd_influx_watts",
				Help: "Most recent derived power draw in watts.",
			},
			[]string{"host"},
		),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apcupsd_influx_last_success_timestamp_seconds",
			Help: "Unix time of the last successfully written point.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(r.polls, r.duration, r.watts, r.lastSuccess)
	return r
}

// ObservePoll records one cycle's outcome and duration.
func (r *Recorder) ObservePoll(result string, d time.Duration) {
	r.polls.WithLabelValues(result).Inc()
	r.duration.Observe(d.Seconds())
}

// ObserveWrite records a successfully written point's derived watts.
func (r *Recorder) ObserveWrite(host string, watts float64, at time.Time) {
	r.watts.WithLabelValues(host).Set(watts)
	r.lastSuccess.Set(float64(at.Unix()))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
