// Package metrics registers the controller's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pilot_ticks_total", Help: "Market ticks processed"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pilot_orders_total", Help: "Orders placed"},
		[]string{"symbol", "side"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pilot_order_rejections_total", Help: "Order intents rejected by the sizer"},
		[]string{"symbol", "risk"},
	)
	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pilot_signal_conflicts_total", Help: "Signal groups that required conflict resolution"},
		[]string{"symbol"},
	)
	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pilot_unit_restarts_total", Help: "Supervised unit restarts after a handler panic"},
		[]string{"unit"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, OrdersTotal, RejectionsTotal, ConflictsTotal, RestartsTotal)
}

// Serve starts a /metrics endpoint on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
