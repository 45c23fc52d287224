// Package engine implements the Live Strategy Engine (C6): a single-threaded
// poll loop that receives market data and trade reports off the message bus,
// dispatches them to registered strategies, and forwards emitted orders to
// the order gateway.
//
// Lifecycle: New() → Run(ctx) → [runs until ctx is cancelled] → Stop()
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/nullma/ttquant/internal/bus"
	"github.com/nullma/ttquant/internal/codec"
	"github.com/nullma/ttquant/internal/errs"
	"github.com/nullma/ttquant/internal/observability"
	"github.com/nullma/ttquant/internal/risk"
	"github.com/nullma/ttquant/internal/store"
	"github.com/nullma/ttquant/internal/strategy"
	"github.com/nullma/ttquant/pkg/types"
)

const pollTimeout = 1 * time.Second

// orderPusher is the subset of *bus.PushProducer gatewaySink depends on,
// kept as its own interface so tests can drive SendOrder without a live
// NATS connection.
type orderPusher interface {
	Send(payload []byte) error
}

// gatewaySink adapts a bus.PushProducer into a strategy.OrderSink by routing
// every order through its strategy's risk gate (if one is registered) before
// encoding and enqueueing it. risk is the same map Engine.risk holds, shared
// by reference so Register's later additions are visible here without any
// further plumbing.
type gatewaySink struct {
	push   orderPusher
	risk   map[string]*risk.Gate
	obs    *observability.Registry
	logger *slog.Logger
}

// SendOrder implements strategy.OrderSink. Per §4.4, pre_trade_check runs
// synchronously before every order emission; a rejection drops the order and
// returns the matching RISK_* sentinel instead of reaching the gateway.
func (g *gatewaySink) SendOrder(order types.Order) error {
	if gate, ok := g.risk[order.Strategy]; ok {
		if accept, reason := gate.PreTradeCheck(order.Symbol, order.Side, order.Volume, order.Price); !accept {
			err := rejectErr(reason)
			g.logger.Warn("order rejected by risk gate", "strategy_id", order.Strategy, "symbol", order.Symbol, "side", order.Side, "reason", reason, "error", err)
			return err
		}
	}

	if g.obs != nil {
		g.obs.OrderSent(order.Strategy, order.Symbol, order.Side)
	}
	return g.push.Send(codec.EncodeOrder(order))
}

// rejectErr maps a RejectReason to its sentinel error, nil for RejectNone.
func rejectErr(reason types.RejectReason) error {
	switch reason {
	case types.RejectDailyLoss:
		return errs.ErrRiskDailyLoss
	case types.RejectMaxPositions:
		return errs.ErrRiskMaxPositions
	case types.RejectPositionSize:
		return errs.ErrRiskPositionSize
	case types.RejectTotalExposure:
		return errs.ErrRiskTotalExposure
	default:
		return nil
	}
}

// orderSinkSetter is implemented by every concrete strategy; it is how the
// engine injects the shared gateway handle without the Strategy interface
// itself needing a setter method (strategies built without one, e.g. in
// isolated tests, simply don't implement it).
type orderSinkSetter interface {
	SetOrderSink(sink strategy.OrderSink)
}

// Config parameterizes the bus endpoints the engine opens.
type Config struct {
	NATSURLs      []string
	MDTopics      []string // e.g. ["md.BTCUSDT", "md.ETHUSDT"]
	TradeTopic    string   // e.g. "trade"
	OrderSubject  string   // e.g. "orders"
	PushHighWater int
}

// Engine orchestrates the live strategy runtime: one market-data subscriber,
// one trade-report subscriber, one order push-producer, and whichever
// strategies were registered before Run is called.
type Engine struct {
	mdSub    *bus.Subscriber
	tradeSub *bus.Subscriber
	poller   *bus.Poller
	push     *bus.PushProducer
	sink     *gatewaySink

	registry *strategy.Registry
	risk     map[string]*risk.Gate // strategyID -> risk gate, optional

	obs *observability.Registry

	logger *slog.Logger
}

// New opens the engine's bus endpoints (market-data subscriber, trade
// subscriber, order push-producer, in that order) and returns a
// ready-to-register engine. Stop tears these down in exact reverse. obs may
// be nil, in which case the engine runs without emitting any metric.
func New(cfg Config, obs *observability.Registry, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	mdSub, err := bus.NewSubscriber(cfg.NATSURLs, logger)
	if err != nil {
		return nil, err
	}
	for _, topic := range cfg.MDTopics {
		if err := mdSub.Subscribe(topic); err != nil {
			mdSub.Close()
			return nil, err
		}
	}

	tradeSub, err := bus.NewSubscriber(cfg.NATSURLs, logger)
	if err != nil {
		mdSub.Close()
		return nil, err
	}
	if err := tradeSub.Subscribe(cfg.TradeTopic); err != nil {
		tradeSub.Close()
		mdSub.Close()
		return nil, err
	}

	highWater := cfg.PushHighWater
	if highWater <= 0 {
		highWater = 1024
	}
	push, err := bus.NewPushProducer(cfg.NATSURLs, cfg.OrderSubject, highWater, logger)
	if err != nil {
		tradeSub.Close()
		mdSub.Close()
		return nil, err
	}

	riskGates := make(map[string]*risk.Gate)

	return &Engine{
		mdSub:    mdSub,
		tradeSub: tradeSub,
		poller:   bus.NewPoller(mdSub, tradeSub),
		push:     push,
		sink:     &gatewaySink{push: push, risk: riskGates, obs: obs, logger: logger},
		registry: strategy.NewRegistry(),
		risk:     riskGates,
		obs:      obs,
		logger:   logger,
	}, nil
}

// Register adds a strategy to the engine, injecting the gateway handle and
// an optional risk gate.
func (e *Engine) Register(s strategy.Strategy, gate *risk.Gate) {
	if setter, ok := s.(orderSinkSetter); ok {
		setter.SetOrderSink(e.sink)
	}
	e.registry.Register(s)
	if gate != nil {
		e.risk[s.ID()] = gate
	}
}

// Run drives the poll loop until ctx is cancelled. Only the caller's main
// goroutine may wire ctx to OS signals; Run itself never touches
// signal.Notify, so it is safe to run from any goroutine.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		ready, ok := e.poller.Poll(ctx, pollTimeout)
		if !ok {
			continue
		}

		switch ready.Index {
		case 0:
			e.handleMarketData(ready.Frame.Payload)
		case 1:
			e.handleTrade(ready.Frame.Payload)
		}
	}
}

func (e *Engine) handleMarketData(payload []byte) {
	md, err := codec.DecodeMarketData(payload)
	if err != nil {
		e.logger.Warn("dropping malformed market-data frame", "error", err)
		return
	}

	if e.obs != nil {
		e.obs.TickReceived(md.Symbol)
	}

	for _, s := range e.registry.All() {
		start := time.Now()
		e.callStrategy(s.ID(), func() { s.OnMarketData(&md) })
		if e.obs != nil {
			e.obs.ObserveCallbackLatency(s.ID(), time.Since(start))
		}
	}

	for _, s := range e.registry.All() {
		s.Portfolio().Mark(md.Symbol, md.LastPrice)

		// §4.4: mark(symbol, price) is called on every tick to evaluate the
		// tracked position's stop/target; a signal is forwarded as a closing
		// order through the same sink a strategy would use.
		if gate, ok := e.risk[s.ID()]; ok {
			if signal := gate.Mark(md.Symbol, md.LastPrice); signal != nil {
				e.triggerClose(s.ID(), signal, md.LastPrice, md.ExchangeTime)
			}
		}

		if e.obs != nil {
			pos := s.Portfolio().Position(md.Symbol)
			e.obs.SetPosition(md.Symbol, pos.AvgPrice*float64(pos.Volume), pos.UnrealizedPnL)
		}
	}

	e.updatePortfolioGauges()
}

// triggerClose forwards a stop-loss/take-profit closing order for strategyID
// through the engine's sink, at the price that triggered it.
func (e *Engine) triggerClose(strategyID string, signal *types.CloseSignal, price float64, timestamp int64) {
	side := types.SELL
	volume := signal.Volume
	if volume < 0 {
		side = types.BUY
		volume = -volume
	}

	order := types.Order{
		ID:        strategy.NextOrderID(strategyID),
		Strategy:  strategyID,
		Symbol:    signal.Symbol,
		Price:     price,
		Volume:    volume,
		Side:      side,
		Timestamp: timestamp,
	}

	e.logger.Info("risk-triggered close", "strategy_id", strategyID, "symbol", signal.Symbol, "reason", signal.Reason, "volume", volume)
	if err := e.sink.SendOrder(order); err != nil {
		e.logger.Warn("risk-triggered close order dropped", "strategy_id", strategyID, "symbol", signal.Symbol, "error", err)
	}
}

func (e *Engine) handleTrade(payload []byte) {
	trade, err := codec.DecodeTrade(payload)
	if err != nil {
		e.logger.Warn("dropping malformed trade frame", "error", err)
		return
	}

	s, found := e.registry.Get(trade.StrategyID)
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
		pos := s.Portfolio().Position(trade.Symbol)
		realizedDelta := pos.RealizedPnL - prev.RealizedPnL
		closing := prev.Volume != 0 && (prev.Volume > 0) != (trade.Side == types.BUY)

		if gate, ok := e.risk[trade.StrategyID]; ok {
			gate.UpdatePnL(realizedDelta)
			side := types.BUY
			volume := pos.Volume
			if volume < 0 {
				side = types.SELL
				volume = -volume
			}
			gate.OnFill(trade.Symbol, pos.AvgPrice, volume, side)
		}

		if e.obs != nil && closing {
			e.obs.RoundTripClosed(trade.StrategyID, realizedDelta)
		}
		e.updatePortfolioGauges()
	}

	start := time.Now()
	e.callStrategy(trade.StrategyID, func() { s.OnTrade(&trade) })
	if e.obs != nil {
		e.obs.ObserveCallbackLatency(trade.StrategyID, time.Since(start))
	}
}

// updatePortfolioGauges sums every registered strategy's realized and total
// PnL into the process-wide gauges; §4.11 defines these as single scalars
// across the whole book, not per strategy.
func (e *Engine) updatePortfolioGauges() {
	if e.obs == nil {
		return
	}
	var total, realized float64
	for _, s := range e.registry.All() {
		for _, symbol := range s.Portfolio().Symbols() {
			pos := s.Portfolio().Position(symbol)
			realized += pos.RealizedPnL
			total += pos.RealizedPnL + pos.UnrealizedPnL
		}
	}
	e.obs.SetPortfolioPnL(total, realized)
}

// callStrategy invokes fn with a recover boundary so a panicking callback
// aborts only the current message for that one strategy; other strategies
// and subsequent messages are unaffected.
func (e *Engine) callStrategy(strategyID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy callback failed", "strategy_id", strategyID, "panic", r, "kind", errs.ErrStrategyCallback)
		}
	}()
	fn()
}

// SaveSnapshots persists every registered strategy's portfolio to st.
// The caller decides the cadence (§4.14: the sidecar is a periodic,
// best-effort persist, not part of the poll loop itself); a failed write for
// one strategy is logged and does not stop the others from being saved.
func (e *Engine) SaveSnapshots(st *store.Store) {
	for _, s := range e.registry.All() {
		if err := st.SaveSnapshot(s.ID(), s.Portfolio()); err != nil {
			e.logger.Warn("position snapshot save failed", "strategy_id", s.ID(), "error", err)
		}
	}
}

// Stop tears down the engine's bus endpoints in reverse of open order.
func (e *Engine) Stop() {
	e.push.Close()
	e.tradeSub.Close()
	e.mdSub.Close()
}
