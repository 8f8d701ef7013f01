// Package metrics registers the fleet's Prometheus collectors:
//   - dca_orders_total{kind}        orders placed (base|safety|take_profit)
//   - dca_deals_closed_total        completed deals
//   - dca_realized_pnl_usdt         cumulative realized PnL across the fleet
//   - dca_active_bots               bots currently holding a price subscription
//   - dca_bot_errors_total          bots that entered the error state
//
// Served at /metrics by the HTTP API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_orders_total",
			Help: "Orders placed, by kind",
		},
		[]string{"kind"},
	)

	dealsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dca_deals_closed_total",
			Help: "Completed deals",
		},
	)

	realizedPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dca_realized_pnl_usdt",
			Help: "Cumulative realized PnL in quote asset",
		},
	)

	activeBots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dca_active_bots",
			Help: "Bots currently subscribed to a price stream",
		},
	)

	botErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dca_bot_errors_total",
			Help: "Bots that entered the error state",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, dealsClosed, realizedPnl, activeBots, botErrors)
}

func OrderPlaced(kind string) {
	ordersPlaced.WithLabelValues(kind).Inc()
}

func DealClosed(pnl float64) {
	dealsClosed.Inc()
	realizedPnl.Add(pnl)
}

func BotStarted() {
	activeBots.Inc()
}

func BotStopped() {
	activeBots.Dec()
}

func BotErrored() {
	botErrors.Inc()
}
