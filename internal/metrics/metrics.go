package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	PublishTicks   prometheus.Counter
	Published      *prometheus.CounterVec
	Received       *prometheus.CounterVec
	Filtered       *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec
	UnitFailures   *prometheus.CounterVec
	UnitsRunning   prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWith(reg, reg)
}

func NewWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		PublishTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "hub_publish_ticks_total",
			Help: "Publisher ticks completed",
		}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_messages_published_total",
			Help: "Messages sent by the publisher by topic",
		}, []string{"topic"}),
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_messages_received_total",
			Help: "Messages delivered to a sink by channel and topic",
		}, []string{"channel", "topic"}),
		Filtered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_messages_filtered_total",
			Help: "Messages dropped because the topic only matched the filter as a prefix",
		}, []string{"channel"}),
		DecodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_decode_failures_total",
			Help: "Frames replaced by the invalid-text sentinel",
		}, []string{"channel"}),
		UnitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_unit_failures_total",
			Help: "Units that terminated with an error by unit and error class",
		}, []string{"unit", "class"}),
		UnitsRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "hub_units_running",
			Help: "Publisher and subscriber units currently running",
		}),
	}
}

func (m *Metrics) TickPublished() {
	if m == nil {
		return
	}
	m.PublishTicks.Inc()
}

func (m *Metrics) MessagePublished(topic string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(topic).Inc()
}

func (m *Metrics) MessageReceived(channel, topic string) {
	if m == nil {
		return
	}
	m.Received.WithLabelValues(channel, topic).Inc()
}

func (m *Metrics) MessageFiltered(channel string) {
	if m == nil {
		return
	}
	m.Filtered.WithLabelValues(channel).Inc()
}

func (m *Metrics) DecodeFailed(channel string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) UnitStarted() {
	if m == nil {
		return
	}
	m.UnitsRunning.Inc()
}

// UnitStopped is paired with UnitStarted; call it only for units that reached running.
func (m *Metrics) UnitStopped() {
	if m == nil {
		return
	}
	m.UnitsRunning.Dec()
}

func (m *Metrics) UnitFailed(unit, class string) {
	if m == nil {
		return
	}
	m.UnitFailures.WithLabelValues(unit, class).Inc()
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
