package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_clients",
		Help: "Number of currently registered connections",
	})

	ChunksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_chunks_received_total",
		Help: "Inbound chunks accepted for broadcast",
	})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_broadcast_deliveries_total",
		Help: "Per-peer broadcast enqueues by result (ok, dropped, error)",
	}, []string{"result"})

	Disconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_disconnects_total",
		Help: "Handler exits by reason",
	}, []string{"reason"})

	BroadcastDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_broadcast_duration_seconds",
		Help:    "Time to fan one chunk out to every peer",
		Buckets: prometheus.DefBuckets,
	}, []string{"origin"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(ChunksReceived)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(Disconnects)
	prometheus.MustRegister(BroadcastDuration)
}
