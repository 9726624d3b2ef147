package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector of one engine instance. It is built against a
// caller-supplied prometheus.Registerer so parallel instances never share state.
type Registry struct {
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	StoreRetriesTotal  *prometheus.CounterVec

	NotificationsTotal *prometheus.CounterVec
	PushesTotal        *prometheus.CounterVec
	EventsDropped      prometheus.Counter
	ExportsTotal       *prometheus.CounterVec

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	RoomsActive       prometheus.Gauge
	RoomJoinsTotal    *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedule_transitions_total",
				Help: "Session operations by outcome",
			},
			[]string{"operation", "result"},
		),
		TransitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schedule_transition_duration_seconds",
				Help:    "Session operation latency including store retries",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation"},
		),
		StoreRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedule_store_retries_total",
				Help: "Store calls retried after a transient failure or lost compare-and-swap",
			},
			[]string{"operation", "reason"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedule_notifications_total",
				Help: "Notification rows written by event type and outcome",
			},
			[]string{"type", "result"},
		),
		PushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedule_pushes_total",
				Help: "Realtime pushes by outcome",
			},
			[]string{"result"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "schedule_events_dropped_total",
				Help: "Session events dropped because the fan-out queue was full",
			},
		),
		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedule_event_exports_total",
				Help: "Session events exported to external sinks",
			},
			[]string{"sink", "result"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_connections_active",
				Help: "Live realtime connections",
			},
		),
		ConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "realtime_connections_total",
				Help: "Realtime connections accepted since start",
			},
		),
		RoomsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_rooms_active",
				Help: "Non-empty broadcast rooms",
			},
		),
		RoomJoinsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_room_joins_total",
				Help: "Room joins by room kind",
			},
			[]string{"kind"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			r.TransitionsTotal,
			r.TransitionDuration,
			r.StoreRetriesTotal,
			r.NotificationsTotal,
			r.PushesTotal,
			r.EventsDropped,
			r.ExportsTotal,
			r.ConnectionsActive,
			r.ConnectionsTotal,
			r.RoomsActive,
			r.RoomJoinsTotal,
			r.HTTPRequestsTotal,
			r.HTTPRequestDuration,
		)
	}

	return r
}

// ObserveTransition records one engine operation.
func (r *Registry) ObserveTransition(operation string, err error, started time.Time) {
	if r == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	r.TransitionsTotal.WithLabelValues(operation, result).Inc()
	r.TransitionDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (r *Registry) ObserveRetry(operation, reason string) {
	if r == nil {
		return
	}
	r.StoreRetriesTotal.WithLabelValues(operation, reason).Inc()
}

func (r *Registry) ObserveNotification(eventType string, err error) {
	if r == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	r.NotificationsTotal.WithLabelValues(eventType, result).Inc()
}

func (r *Registry) ObservePush(result string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.PushesTotal.WithLabelValues(result).Add(float64(n))
}

func (r *Registry) ObserveDrop() {
	if r == nil {
		return
	}
	r.EventsDropped.Inc()
}

func (r *Registry) ObserveExport(sink string, err error) {
	if r == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ExportsTotal.WithLabelValues(sink, result).Inc()
}

func (r *Registry) ObserveHTTP(method, route string, status int, started time.Time) {
	if r == nil {
		return
	}

	r.HTTPRequestsTotal.WithLabelValues(method, route, httpStatusClass(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}

func httpStatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
