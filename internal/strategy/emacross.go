package strategy

import (
	"log/slog"

	"github.com/nullma/ttquant/internal/ledger"
	"github.com/nullma/ttquant/pkg/types"
)

// EMACross is the moving-average-cross reference strategy: two exponential
// moving averages (fast, slow) updated per tick. A golden cross (fast moves
// above slow while flat or short) emits a BUY; a death cross (fast moves
// below slow while long) emits a SELL of the full held position.
type EMACross struct {
	id     string
	symbol string

	fastAlpha float64
	slowAlpha float64
	fastEMA   float64
	slowEMA   float64
	seeded    bool

	prevDiffPositive bool
	havePrevDiff     bool

	orderVolume int64

	sink OrderSink
	pf   *ledger.Portfolio

	logger *slog.Logger
}

// NewEMACross builds the strategy for one symbol. fastPeriod and slowPeriod
// are EMA periods in ticks; orderVolume is the fixed size of every emitted
// order.
func NewEMACross(id, symbol string, fastPeriod, slowPeriod int, orderVolume int64, logger *slog.Logger) *EMACross {
	return &EMACross{
		id:          id,
		symbol:      symbol,
		fastAlpha:   2.0 / (float64(fastPeriod) + 1.0),
		slowAlpha:   2.0 / (float64(slowPeriod) + 1.0),
		orderVolume: orderVolume,
		pf:          ledger.New(),
		logger:      logger.With("component", "strategy", "id", id),
	}
}

// ID implements Strategy.
func (e *EMACross) ID() string { return e.id }

// Portfolio implements Strategy.
func (e *EMACross) Portfolio() *ledger.Portfolio { return e.pf }

// SetOrderSink injects the gateway handle the strategy emits orders through.
func (e *EMACross) SetOrderSink(sink OrderSink) { e.sink = sink }

// OnMarketData implements Strategy.
func (e *EMACross) OnMarketData(md *types.MarketData) {
	if md.Symbol != e.symbol {
		return
	}

	price := md.LastPrice
	if !e.seeded {
		e.fastEMA = price
		e.slowEMA = price
		e.seeded = true
		return
	}

	e.fastEMA += e.fastAlpha * (price - e.fastEMA)
	e.slowEMA += e.slowAlpha * (price - e.slowEMA)

	diffPositive := e.fastEMA > e.slowEMA
	if !e.havePrevDiff {
		e.prevDiffPositive = diffPositive
		e.havePrevDiff = true
		return
	}

	pos := e.pf.Position(e.symbol)

	switch {
	case diffPositive && !e.prevDiffPositive && pos.Volume <= 0:
		e.emit(types.BUY, e.orderVolume, price, md.ExchangeTime)
	case !diffPositive && e.prevDiffPositive && pos.Volume > 0:
		e.emit(types.SELL, pos.Volume, price, md.ExchangeTime)
	}

	e.prevDiffPositive = diffPositive
}

func (e *EMACross) emit(side types.Side, volume int64, price float64, ts int64) {
	if e.sink == nil || volume <= 0 {
		return
	}
	order := types.Order{
		ID:        NextOrderID(e.id),
		Strategy:  e.id,
		Symbol:    e.symbol,
		Price:     price,
		Volume:    volume,
		Side:      side,
		Timestamp: ts,
	}
	if err := e.sink.SendOrder(order); err != nil {
		e.logger.Warn("order send failed", "error", err, "order_id", order.ID)
	}
}

// OnTrade implements Strategy. The engine already applies FILLED trades to
// the portfolio; this callback is an observation point for strategy-side
// bookkeeping beyond the ledger (none needed here).
func (e *EMACross) OnTrade(trade *types.Trade) {}
