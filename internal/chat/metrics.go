package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently registered sessions",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total events published on the bus by kind",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time to fan out each event kind",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	BusDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_bus_dropped_total",
		Help: "Events evicted from full subscriber queues",
	})

	KeepaliveProbesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_keepalive_probes_total",
		Help: "PING probes sent to idle sessions",
	})

	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_sessions_total",
		Help: "Finished sessions by exit reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(BusDroppedTotal)
	prometheus.MustRegister(KeepaliveProbesTotal)
	prometheus.MustRegister(SessionsTotal)
}
