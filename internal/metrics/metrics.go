package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters/histograms for the agenda. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	httpDuration  *prometheus.HistogramVec
	bookings      *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
	identities    *prometheus.CounterVec
	dashboards    *prometheus.CounterVec
	purged        prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Appointment booking attempts by outcome",
		}, []string{"outcome"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "appointments",
			Name:      "status_changes_total",
			Help:      "Appointment status changes by target status",
		}, []string{"to", "override"}),
		identities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "identity",
			Name:      "resolutions_total",
			Help:      "Identity resolutions by matching rule",
		}, []string{"rule"}),
		dashboards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "dashboard",
			Name:      "loads_total",
			Help:      "Dashboard loads by result",
		}, []string{"result"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "appointments",
			Name:      "purged_total",
			Help:      "Terminal appointments removed by the purge worker",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.httpDuration, m.bookings, m.statusChanges, m.identities, m.dashboards, m.purged)
	return m
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// ObserveBooking records a create attempt: created, conflict, invalid or error.
func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStatusChange(to string, override bool) {
	if m == nil {
		return
	}
	label := "false"
	if override {
		label = "true"
	}
	m.statusChanges.WithLabelValues(to, label).Inc()
}

func (m *Metrics) ObserveResolution(rule string) {
	if m == nil {
		return
	}
	m.identities.WithLabelValues(rule).Inc()
}

func (m *Metrics) ObserveDashboard(result string) {
	if m == nil {
		return
	}
	m.dashboards.WithLabelValues(result).Inc()
}

func (m *Metrics) AddPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}
