package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for one upload run, mirroring
// engine.Totals one-for-one.
type Metrics struct {
	Sent    prometheus.Counter
	Got     prometheus.Counter
	Weird   prometheus.Counter
	Late    prometheus.Counter
	Future  prometheus.Counter
	Alien   prometheus.Counter
	Misfit  prometheus.Counter
	Defer   prometheus.Counter
	Timeout prometheus.Counter

	Burst    prometheus.Gauge
	Problems prometheus.Gauge

	PeersActive prometheus.Gauge
	PeersDone   prometheus.Gauge

	RunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set against the default
// registry.
func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return promauto.NewCounter(prometheus.CounterOpts{Name: "skarabflash_" + name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return promauto.NewGauge(prometheus.GaugeOpts{Name: "skarabflash_" + name, Help: help})
	}

	return &Metrics{
		Sent:    counter("sent_total", "Request datagrams sent"),
		Got:     counter("got_total", "Ack datagrams received"),
		Weird:   counter("weird_total", "Acks rejected for bad magic or sequence"),
		Late:    counter("late_total", "Acks rejected as stale"),
		Future:  counter("future_total", "Acks rejected as ahead of the current window"),
		Alien:   counter("alien_total", "Datagrams received from unknown peers"),
		Misfit:  counter("misfit_total", "Datagrams rejected for wrong length"),
		Defer:   counter("defer_total", "EAGAIN/EINTR retries"),
		Timeout: counter("timeout_total", "Readability waits that timed out"),

		Burst:    gauge("retry_burst", "Current consecutive-timeout burst"),
		Problems: gauge("problems", "Cumulative send/receive problem count"),

		PeersActive: gauge("peers_active", "Peers not yet done"),
		PeersDone:   gauge("peers_done", "Peers that reached the terminal state"),

		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "skarabflash_runs_total", Help: "Upload runs by outcome"},
			[]string{"outcome"},
		),
	}
}

// Snapshot reports one engine.Totals' final values to the metric set.
// It is meant to be called once, after a run concludes; the engine
// itself only ever increases these counters within a single run, so
// there is nothing to delta against.
func (m *Metrics) Snapshot(sent, got, weird, late, future, alien, misfit, deferCount, timeout uint64, burst, problems int, peersDone, peersTotal int) {
	m.Sent.Add(float64(sent))
	m.Got.Add(float64(got))
	m.Weird.Add(float64(weird))
	m.Late.Add(float64(late))
	m.Future.Add(float64(future))
	m.Alien.Add(float64(alien))
	m.Misfit.Add(float64(misfit))
	m.Defer.Add(float64(deferCount))
	m.Timeout.Add(float64(timeout))

	m.Burst.Set(float64(burst))
	m.Problems.Set(float64(problems))
	m.PeersDone.Set(float64(peersDone))
	m.PeersActive.Set(float64(peersTotal - peersDone))
}

// RecordRun increments the outcome counter once a run concludes.
func (m *Metrics) RecordRun(outcome string) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
