// Package observability implements the wire observability surface (C11): a
// process-wide Prometheus registry exposed over a small HTTP endpoint, in
// the plain-text scalar-line format the external interface contract
// specifies.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nullma/ttquant/pkg/types"
)

var callbackLatencyBuckets = []float64{1, 5, 10, 50, 100, 500, 1000, 5000}

// Registry is the process-wide observability state: construct one with New,
// Init its HTTP endpoint once at startup, and Shutdown it once at process
// exit. The engine and strategies take a reference to an existing Registry;
// nothing here reaches for a package-level global.
type Registry struct {
	reg *prometheus.Registry

	ordersSent     *prometheus.CounterVec
	tradesReceived *prometheus.CounterVec
	ticksReceived  *prometheus.CounterVec
	winningTrades  *prometheus.CounterVec
	losingTrades   *prometheus.CounterVec

	totalPnL          prometheus.Gauge
	realizedPnL       prometheus.Gauge
	positionValue     *prometheus.GaugeVec
	positionUnrealized *prometheus.GaugeVec
	winRate           prometheus.Gauge
	maxDrawdown       prometheus.Gauge
	sharpeEstimate    prometheus.Gauge
	activeStrategies  prometheus.Gauge
	uptimeSeconds     prometheus.Gauge

	callbackLatency *prometheus.HistogramVec

	startedAt time.Time
	server    *http.Server
}

// New constructs and registers every named series. No HTTP endpoint is
// opened until Init is called.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg:       reg,
		startedAt: startTimeHook(),

		ordersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ttquant_orders_sent_total",
			Help: "Orders emitted by a strategy, by strategy/symbol/side.",
		}, []string{"strategy", "symbol", "side"}),

		tradesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ttquant_trades_received_total",
			Help: "Trade reports received, by strategy/status.",
		}, []string{"strategy", "status"}),

		ticksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ttquant_ticks_received_total",
			Help: "Market data ticks received, by symbol.",
		}, []string{"symbol"}),

		winningTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ttquant_winning_trades_total",
			Help: "Closing trades with positive realized PnL, by strategy.",
		}, []string{"strategy"}),

		losingTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ttquant_losing_trades_total",
			Help: "Closing trades with negative realized PnL, by strategy.",
		}, []string{"strategy"}),

		totalPnL:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "ttquant_total_pnl", Help: "Realized plus unrealized PnL across all strategies."}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{Name: "ttquant_realized_pnl", Help: "Realized PnL across all strategies."}),

		positionValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ttquant_position_value",
			Help: "Mark value of an open position, by symbol.",
		}, []string{"symbol"}),

		positionUnrealized: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ttquant_position_unrealized_pnl",
			Help: "Unrealized PnL of an open position, by symbol.",
		}, []string{"symbol"}),

		winRate:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "ttquant_win_rate", Help: "Fraction of closed trades that were winners."}),
		maxDrawdown:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "ttquant_max_drawdown", Help: "Largest peak-to-trough equity drawdown observed."}),
		sharpeEstimate:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "ttquant_sharpe_estimate", Help: "Most recent annualized Sharpe ratio estimate."}),
		activeStrategies: prometheus.NewGauge(prometheus.GaugeOpts{Name: "ttquant_active_strategies", Help: "Number of registered strategies."}),
		uptimeSeconds:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "ttquant_uptime_seconds", Help: "Seconds since the observability registry was created."}),

		callbackLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ttquant_strategy_callback_latency_ms",
			Help:    "Strategy callback latency in milliseconds.",
			Buckets: callbackLatencyBuckets,
		}, []string{"strategy"}),
	}

	reg.MustRegister(
		r.ordersSent, r.tradesReceived, r.ticksReceived, r.winningTrades, r.losingTrades,
		r.totalPnL, r.realizedPnL, r.positionValue, r.positionUnrealized,
		r.winRate, r.maxDrawdown, r.sharpeEstimate, r.activeStrategies, r.uptimeSeconds,
		r.callbackLatency,
	)

	return r
}

// startTimeHook reads the wall clock once, at registry creation; the uptime
// gauge is measured from that instant.
func startTimeHook() time.Time { return time.Now() }

// OrderSent increments the orders-sent counter.
func (r *Registry) OrderSent(strategy, symbol string, side types.Side) {
	r.ordersSent.WithLabelValues(strategy, symbol, string(side)).Inc()
}

// TradeReceived increments the trades-received counter.
func (r *Registry) TradeReceived(strategy string, status types.TradeStatus) {
	r.tradesReceived.WithLabelValues(strategy, string(status)).Inc()
}

// TickReceived increments the ticks-received counter.
func (r *Registry) TickReceived(symbol string) {
	r.ticksReceived.WithLabelValues(symbol).Inc()
}

// RoundTripClosed increments the winning or losing trade counter for
// strategy depending on the sign of realizedPnL; a zero PnL increments
// neither.
func (r *Registry) RoundTripClosed(strategy string, realizedPnL float64) {
	switch {
	case realizedPnL > 0:
		r.winningTrades.WithLabelValues(strategy).Inc()
	case realizedPnL < 0:
		r.losingTrades.WithLabelValues(strategy).Inc()
	}
}

// SetPortfolioPnL updates the total/realized PnL gauges.
func (r *Registry) SetPortfolioPnL(total, realized float64) {
	r.totalPnL.Set(total)
	r.realizedPnL.Set(realized)
}

// SetPosition updates the per-symbol value and unrealized PnL gauges.
func (r *Registry) SetPosition(symbol string, value, unrealizedPnL float64) {
	r.positionValue.WithLabelValues(symbol).Set(value)
	r.positionUnrealized.WithLabelValues(symbol).Set(unrealizedPnL)
}

// SetPerformance updates win rate, max drawdown, and Sharpe estimate gauges,
// typically fed from a backtest.Analyzer or a live rolling equivalent.
func (r *Registry) SetPerformance(winRate, maxDrawdown, sharpe float64) {
	r.winRate.Set(winRate)
	r.maxDrawdown.Set(maxDrawdown)
	r.sharpeEstimate.Set(sharpe)
}

// SetActiveStrategies updates the active-strategy-count gauge.
func (r *Registry) SetActiveStrategies(n int) {
	r.activeStrategies.Set(float64(n))
}

// ObserveCallbackLatency records one strategy callback's latency.
func (r *Registry) ObserveCallbackLatency(strategy string, d time.Duration) {
	r.callbackLatency.WithLabelValues(strategy).Observe(float64(d.Milliseconds()))
}

// Init opens the HTTP endpoint on port, serving the plain-text scalar-line
// format on /metrics (the one resource: the current snapshot of every named
// series); other paths get 404.
func (r *Registry) Init(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", r.handlePlainText)

	r.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		_ = r.server.ListenAndServe()
	}()
	return nil
}

// Shutdown gracefully stops the HTTP endpoint, if one was opened.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

// handlePlainText renders every registered metric family as one "name
// value" line per labeled series, gathered through the same
// *prometheus.Registry a promhttp.HandlerFor would use — this is a
// deliberately minimal adapter over client_golang's native exposition
// format, not a replacement for it.
func (r *Registry) handlePlainText(w http.ResponseWriter, req *http.Request) {
	r.uptimeSeconds.Set(time.Since(r.startedAt).Seconds())

	families, err := r.reg.Gather()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := metricLineName(mf.GetName(), m)
			value := metricLineValue(mf.GetType(), m)
			fmt.Fprintf(w, "%s %s\n", name, value)
		}
	}
}

func metricLineName(base string, m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return base
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(parts)
	return base + "{" + strings.Join(parts, ",") + "}"
}

func metricLineValue(kind dto.MetricType, m *dto.Metric) string {
	switch kind {
	case dto.MetricType_COUNTER:
		return formatFloat(m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return formatFloat(m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("sum=%s count=%d", formatFloat(h.GetSampleSum()), h.GetSampleCount())
	default:
		return "0"
	}
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
