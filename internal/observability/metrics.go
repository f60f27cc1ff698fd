package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	socketEventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_socket_events_received_total",
			Help: "Inbound socket events by name.",
		},
		[]string{"event"},
	)
	socketEventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_socket_events_emitted_total",
			Help: "Outbound socket events by name and result.",
		},
		[]string{"event", "result"},
	)
	socketReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_socket_reconnect_attempts_total",
			Help: "Dial attempts made after the first one.",
		},
	)
	socketConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_socket_connected",
			Help: "1 while the session socket is connected.",
		},
	)
	droppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_dropped_events_total",
			Help: "Inbound events or fetch results that were discarded.",
		},
		[]string{"reason"},
	)
	historyFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_history_fetches_total",
			Help: "History fetches by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		socketEventsReceived,
		socketEventsEmitted,
		socketReconnects,
		socketConnected,
		droppedEvents,
		historyFetches,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func IncEventReceived(event string) {
	socketEventsReceived.WithLabelValues(event).Inc()
}

func IncEventEmitted(event, result string) {
	socketEventsEmitted.WithLabelValues(event, result).Inc()
}

func IncReconnect() {
	socketReconnects.Inc()
}

func SetConnected(connected bool) {
	if connected {
		socketConnected.Set(1)
		return
	}
	socketConnected.Set(0)
}

func IncDropped(reason string) {
	droppedEvents.WithLabelValues(reason).Inc()
}

func IncHistoryFetch(result string) {
	historyFetches.WithLabelValues(result).Inc()
}
