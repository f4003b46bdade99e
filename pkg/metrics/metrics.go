package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec

	// Authorization and lifecycle metrics
	AuthzDenials          *prometheus.CounterVec
	AppointmentTransition *prometheus.CounterVec

	// Store metrics
	TxRetries *prometheus.CounterVec

	// Integration metrics
	EventsPublished   *prometheus.CounterVec
	DirectoryLookups  *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "path", "status"}),

		AuthzDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "denials_total",
			Help:      "Total number of authorization denials",
		}, []string{"role", "endpoint"}),
		AppointmentTransition: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Appointment lifecycle transitions by outcome",
		}, []string{"transition", "outcome"}),

		TxRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a serialization failure",
		}, []string{"driver"}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events handed to the broker",
		}, []string{"type", "status"}),
		DirectoryLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "directory_lookups_total",
			Help:      "Identity directory lookups by result",
		}, []string{"result"}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "sent_total",
			Help:      "Notification emails by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) ObserveRequest(method, path, status string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, path, status).Observe(seconds)
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	if failed {
		m.ErrorsTotal.WithLabelValues(method, path, status).Inc()
	}
}

func (m *Metrics) AuthzDenied(role, endpoint string) {
	if m == nil {
		return
	}
	m.AuthzDenials.WithLabelValues(role, endpoint).Inc()
}

func (m *Metrics) Transition(transition, outcome string) {
	if m == nil {
		return
	}
	m.AppointmentTransition.WithLabelValues(transition, outcome).Inc()
}

func (m *Metrics) TxRetry(driver string) {
	if m == nil {
		return
	}
	m.TxRetries.WithLabelValues(driver).Inc()
}

func (m *Metrics) EventPublished(eventType, status string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) DirectoryLookup(result string) {
	if m == nil {
		return
	}
	m.DirectoryLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) NotificationSent(status string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(status).Inc()
}
