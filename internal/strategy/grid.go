package strategy

import (
	"log/slog"

	"github.com/nullma/ttquant/internal/ledger"
	"github.com/nullma/ttquant/pkg/types"
)

// gridRung is one conceptual buy or sell level in a Grid strategy's ladder.
type gridRung struct {
	price  float64
	side   types.Side
	filled bool
}

// Grid anchors a center price on its first tick and places buy rungs below,
// sell rungs above, evenly spaced by priceRangePct/gridCount. A rung fires
// (emits its order and flips filled) the first time a tick touches it; it
// re-arms when the matching trade is reported back. A percent stop-loss and
// take-profit against the running average entry closes the whole position.
type Grid struct {
	id     string
	symbol string

	priceRangePct float64
	gridCount     int
	rungVolume    int64
	stopLossPct   float64
	takeProfitPct float64

	center float64
	seeded bool
	rungs  []gridRung

	pendingOrderRung map[string]int // orderID -> rung index, cleared on trade

	sink OrderSink
	pf   *ledger.Portfolio

	logger *slog.Logger
}

// NewGrid builds a grid strategy for one symbol.
func NewGrid(id, symbol string, priceRangePct float64, gridCount int, rungVolume int64, stopLossPct, takeProfitPct float64, logger *slog.Logger) *Grid {
	return &Grid{
		id:               id,
		symbol:           symbol,
		priceRangePct:    priceRangePct,
		gridCount:        gridCount,
		rungVolume:       rungVolume,
		stopLossPct:      stopLossPct,
		takeProfitPct:    takeProfitPct,
		pendingOrderRung: make(map[string]int),
		pf:               ledger.New(),
		logger:           logger.With("component", "strategy", "id", id),
	}
}

// ID implements Strategy.
func (g *Grid) ID() string { return g.id }

// Portfolio implements Strategy.
func (g *Grid) Portfolio() *ledger.Portfolio { return g.pf }

// SetOrderSink injects the gateway handle the strategy emits orders through.
func (g *Grid) SetOrderSink(sink OrderSink) { g.sink = sink }

func (g *Grid) buildRungsLocked() {
	if g.gridCount <= 0 {
		return
	}
	spacing := g.priceRangePct / float64(g.gridCount)
	for i := 1; i <= g.gridCount; i++ {
		frac := float64(i) * spacing
		g.rungs = append(g.rungs, gridRung{price: g.center * (1 - frac), side: types.BUY})
		g.rungs = append(g.rungs, gridRung{price: g.center * (1 + frac), side: types.SELL})
	}
}

// OnMarketData implements Strategy.
func (g *Grid) OnMarketData(md *types.MarketData) {
	if md.Symbol != g.symbol {
		return
	}
	price := md.LastPrice

	if !g.seeded {
		g.center = price
		g.seeded = true
		g.buildRungsLocked()
		return
	}

	if g.checkStopAndTarget(price, md.ExchangeTime) {
		return
	}

	for i := range g.rungs {
		r := &g.rungs[i]
		if r.filled {
			continue
		}
		touched := (r.side == types.BUY && price <= r.price) || (r.side == types.SELL && price >= r.price)
		if !touched {
			continue
		}
		order := types.Order{
			ID:        NextOrderID(g.id),
			Strategy:  g.id,
			Symbol:    g.symbol,
			Price:     r.price,
			Volume:    g.rungVolume,
			Side:      r.side,
			Timestamp: md.ExchangeTime,
		}
		if g.sink == nil {
			continue
		}
		if err := g.sink.SendOrder(order); err != nil {
			g.logger.Warn("order send failed", "error", err, "order_id", order.ID)
			continue
		}
		r.filled = true
		g.pendingOrderRung[order.ID] = i
	}
}

// checkStopAndTarget reports whether the stop-loss or take-profit fired on
// this tick; when it did, the rungs are not evaluated for the same tick.
func (g *Grid) checkStopAndTarget(price float64, ts int64) bool {
	pos := g.pf.Position(g.symbol)
	if pos.Volume == 0 {
		return false
	}

	var stop, target float64
	if pos.Volume > 0 {
		stop = pos.AvgPrice * (1 - g.stopLossPct)
		target = pos.AvgPrice * (1 + g.takeProfitPct)
		if price > stop && price < target {
			return false
		}
	} else {
		stop = pos.AvgPrice * (1 + g.stopLossPct)
		target = pos.AvgPrice * (1 - g.takeProfitPct)
		if price < stop && price > target {
			return false
		}
	}

	if g.sink == nil {
		return true
	}
	closeSide := types.SELL
	if pos.Volume < 0 {
		closeSide = types.BUY
	}
	order := types.Order{
		ID:        NextOrderID(g.id),
		Strategy:  g.id,
		Symbol:    g.symbol,
		Price:     price,
		Volume:    absI64(pos.Volume),
		Side:      closeSide,
		Timestamp: ts,
	}
	if err := g.sink.SendOrder(order); err != nil {
		g.logger.Warn("close order send failed", "error", err, "order_id", order.ID)
	}
	return true
}

// OnTrade implements Strategy. Re-arms the rung that produced this trade, if
// any, so it can fire again on a future touch.
func (g *Grid) OnTrade(trade *types.Trade) {
	idx, ok := g.pendingOrderRung[trade.OrderID]
	if !ok {
		return
	}
	delete(g.pendingOrderRung, trade.OrderID)
	if idx >= 0 && idx < len(g.rungs) {
		g.rungs[idx].filled = false
	}
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
