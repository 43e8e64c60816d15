package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus series the engine exports. Counters are
// safe to touch from the matching thread and the notifier worker alike.
type Metrics struct {
	OrdersReceived  prometheus.Counter
	OrdersAccepted  prometheus.Counter
	OrdersRejected  prometheus.Counter
	FillsPublished  prometheus.Counter
	TradesExecuted  prometheus.Counter
	NotifierDropped prometheus.Counter
	SnapshotsSaved  prometheus.Counter
	SymbolCount     prometheus.Gauge
}

// NewMetrics registers every series on the given registry. Passing a fresh
// registry keeps tests isolated from the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaex_orders_received_total",
			Help: "Order intents consumed from the inbound stream",
		}),
		OrdersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaex_orders_accepted_total",
			Help: "Orders admitted into a book",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaex_orders_rejected_total",
			Help: "Orders rejected by parsing or book policy",
		}),
		FillsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaex_fills_published_total",
			Help: "Fill events published downstream",
		}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaex_trades_executed_total",
			Help: "Executions performed by the matching core",
		}),
		NotifierDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaex_notifier_dropped_total",
			Help: "User notifications dropped on queue overflow",
		}),
		SnapshotsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaex_snapshots_saved_total",
			Help: "Order book snapshots written to the cache",
		}),
		SymbolCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "novaex_symbols",
			Help: "Active order books",
		}),
	}
	reg.MustRegister(
		m.OrdersReceived, m.OrdersAccepted, m.OrdersRejected,
		m.FillsPublished, m.TradesExecuted, m.NotifierDropped,
		m.SnapshotsSaved, m.SymbolCount,
	)
	return m
}
