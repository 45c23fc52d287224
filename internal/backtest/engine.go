package backtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nullma/ttquant/internal/errs"
	"github.com/nullma/ttquant/internal/observability"
	"github.com/nullma/ttquant/internal/strategy"
	"github.com/nullma/ttquant/pkg/types"
)

// orderSinkSetter mirrors internal/engine's injection pattern: strategies
// that accept a gateway handle implement this, without the core Strategy
// interface needing a setter method.
type orderSinkSetter interface {
	SetOrderSink(sink strategy.OrderSink)
}

// tickSource is the pull-iterator contract C7's DataSource satisfies, kept
// as its own interface so the engine can be driven by a fake in tests
// without a live database connection.
type tickSource interface {
	Next(ctx context.Context) (*types.MarketData, bool, error)
}

// Engine drives a full historical replay: it injects itself as each
// registered strategy's OrderSink, forwards emitted orders to a Simulated
// Gateway using the last seen price for the order's symbol, and routes
// resulting fills back into the strategy's ledger and the per-strategy
// Performance Analyzer.
type Engine struct {
	source  tickSource
	gateway *SimulatedGateway

	strategies *strategy.Registry
	analyzers  map[string]*Analyzer
	lastPrice  map[string]float64

	initialCapital float64
	recordInterval int

	firstTick int64
	lastTick  int64
	ticksSeen int

	obs *observability.Registry

	logger *slog.Logger
}

// New constructs a backtest engine over source, with a gateway built from
// gwCfg. recordInterval must be > 0; callers should default it to 100 if
// unconfigured (matching [backtest].record_equity_interval's documented
// default). obs may be nil, in which case the run emits no metric.
func New(source tickSource, gwCfg GatewayConfig, initialCapital float64, recordInterval int, obs *observability.Registry, logger *slog.Logger) *Engine {
	e := &Engine{
		source:         source,
		strategies:     strategy.NewRegistry(),
		analyzers:      make(map[string]*Analyzer),
		lastPrice:      make(map[string]float64),
		initialCapital: initialCapital,
		recordInterval: recordInterval,
		obs:            obs,
		logger:         logger.With("component", "backtest_engine"),
	}
	e.gateway = NewSimulatedGateway(gwCfg, e.onTrade)
	return e
}

// Register adds a strategy to the run, injecting this engine as its
// OrderSink and creating its Performance Analyzer.
func (e *Engine) Register(s strategy.Strategy) {
	if setter, ok := s.(orderSinkSetter); ok {
		setter.SetOrderSink(e)
	}
	e.strategies.Register(s)
	e.analyzers[s.ID()] = NewAnalyzer()
}

// SendOrder implements strategy.OrderSink: it looks up the last seen price
// for the order's symbol and forwards to the simulated gateway. The
// gateway's callback (onTrade) is invoked synchronously before this
// returns.
func (e *Engine) SendOrder(order types.Order) error {
	price := e.lastPrice[order.Symbol]
	if e.obs != nil {
		e.obs.OrderSent(order.Strategy, order.Symbol, order.Side)
	}
	e.gateway.SendOrder(order, price)
	return nil
}

func (e *Engine) onTrade(trade types.Trade, slippageCost float64) {
	s, found := e.strategies.Get(trade.StrategyID)
	if !found {
		e.logger.Warn("trade routed to unknown strategy, discarding", "strategy_id", trade.StrategyID)
		return
	}

	if e.obs != nil {
		e.obs.TradeReceived(trade.StrategyID, trade.Status)
	}

	if trade.Status == types.StatusFilled {
		prev := s.Portfolio().Position(trade.Symbol)
		s.Portfolio().ApplyTrade(trade)
		closing := prev.Volume != 0 && (prev.Volume > 0) != (trade.Side == types.BUY)
		if e.obs != nil && closing {
			realizedDelta := s.Portfolio().Position(trade.Symbol).RealizedPnL - prev.RealizedPnL
			e.obs.RoundTripClosed(trade.StrategyID, realizedDelta)
		}
	}
	if a, ok := e.analyzers[trade.StrategyID]; ok {
		a.RecordTrade(trade, slippageCost)
	}

	e.callStrategy(trade.StrategyID, func() { s.OnTrade(&trade) })
}

// Run replays the data source to exhaustion and returns each registered
// strategy's BacktestReport, keyed by strategy ID. Given the same tick
// stream and the same gateway seed, two calls to Run produce byte-identical
// reports: nothing in the loop depends on goroutine scheduling. The loop
// reads the wall clock only to time each OnMarketData callback for the
// callback-latency metric; that reading never enters a report.
func (e *Engine) Run(ctx context.Context) (map[string]types.BacktestReport, error) {
	for {
		md, ok, err := e.source.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		if e.ticksSeen == 0 {
			e.firstTick = md.ExchangeTime
		}
		e.lastTick = md.ExchangeTime
		e.ticksSeen++

		e.lastPrice[md.Symbol] = md.LastPrice

		if e.obs != nil {
			e.obs.TickReceived(md.Symbol)
		}

		for _, s := range e.strategies.All() {
			start := time.Now()
			e.callStrategy(s.ID(), func() { s.OnMarketData(md) })
			if e.obs != nil {
				e.obs.ObserveCallbackLatency(s.ID(), time.Since(start))
			}
		}
		for _, s := range e.strategies.All() {
			s.Portfolio().Mark(md.Symbol, md.LastPrice)
			if e.obs != nil {
				pos := s.Portfolio().Position(md.Symbol)
				e.obs.SetPosition(md.Symbol, pos.AvgPrice*float64(pos.Volume), pos.UnrealizedPnL)
			}
		}

		if e.recordInterval > 0 && e.ticksSeen%e.recordInterval == 0 {
			e.recordEquity(md.ExchangeTime)
		}
	}

	if e.ticksSeen > 0 {
		e.recordEquity(e.lastTick)
	}

	reports := make(map[string]types.BacktestReport, len(e.analyzers))
	for _, id := range e.strategies.IDs() {
		a := e.analyzers[id]
		s, _ := e.strategies.Get(id)
		var realized, unrealized float64
		for _, symbol := range s.Portfolio().Symbols() {
			pos := s.Portfolio().Position(symbol)
			realized += pos.RealizedPnL
			unrealized += pos.UnrealizedPnL
		}
		report := a.Report(id, e.firstTick, e.lastTick, e.initialCapital, realized, unrealized)
		reports[id] = report
		if e.obs != nil {
			e.obs.SetPortfolioPnL(report.RealizedPnL+report.UnrealizedPnL, report.RealizedPnL)
			e.obs.SetPerformance(report.WinRate, report.MaxDrawdown, report.SharpeRatio)
		}
	}
	return reports, nil
}

// ExportTradesCSV writes strategyID's filled-trade tape as CSV to w. Returns
// an error if strategyID was never registered.
func (e *Engine) ExportTradesCSV(strategyID string, w io.Writer) error {
	a, ok := e.analyzers[strategyID]
	if !ok {
		return fmt.Errorf("backtest: no analyzer registered for strategy %q", strategyID)
	}
	return a.ExportTradesCSV(w)
}

func (e *Engine) recordEquity(timestampNs int64) {
	for _, id := range e.strategies.IDs() {
		a := e.analyzers[id]
		s, _ := e.strategies.Get(id)
		a.RecordEquity(timestampNs, e.initialCapital+s.Portfolio().TotalPnL())
	}
}

// callStrategy isolates one strategy's panicking callback from the rest of
// the run, mirroring internal/engine's per-strategy recover boundary.
func (e *Engine) callStrategy(strategyID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy callback failed", "strategy_id", strategyID, "panic", r, "kind", errs.ErrStrategyCallback)
		}
	}()
	fn()
}
