// Package ledger implements the portfolio ledger (C3): per-symbol position
// state with average-cost accounting and realized/unrealized PnL.
package ledger

import (
	"sync"

	"github.com/nullma/ttquant/pkg/types"
)

// Portfolio tracks one strategy's positions across every symbol it has
// traded. Thread-safe via RWMutex, though in normal operation it is only
// ever touched from its owning engine's single goroutine.
type Portfolio struct {
	mu         sync.RWMutex
	positions  map[string]*types.Position
	order      []string // insertion order, for deterministic iteration
	totalRealized float64
	cash       float64
}

// New creates an empty portfolio.
func New() *Portfolio {
	return &Portfolio{positions: make(map[string]*types.Position)}
}

func (p *Portfolio) getOrCreateLocked(symbol string) *types.Position {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &types.Position{Symbol: symbol}
		p.positions[symbol] = pos
		p.order = append(p.order, symbol)
	}
	return pos
}

// ApplyTrade mutates the ledger per a single FILLED trade, following the
// average-cost algorithm: opening/adding moves the average price, reducing
// or reversing realizes PnL on the closed quantity. Commission is always
// deducted from realized PnL. Trades must be applied exactly once.
func (p *Portfolio) ApplyTrade(trade types.Trade) {
	if trade.Status != types.StatusFilled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.getOrCreateLocked(trade.Symbol)

	d := int64(float64(trade.FilledVolume) * trade.Side.Sign())
	v := pos.Volume

	opening := v == 0 || sign(v) == sign(d)

	if opening {
		totalCost := pos.AvgPrice*absf(v) + trade.FilledPrice*absf(d)
		pos.Volume = v + d
		if pos.Volume != 0 {
			pos.AvgPrice = totalCost / absf(pos.Volume)
		} else {
			pos.AvgPrice = 0
		}
		// Commission still applies even when opening; it only ever reduces
		// realized PnL, never capitalized into the average price.
		pos.RealizedPnL -= trade.Commission
		p.totalRealized -= trade.Commission
	} else {
		closedQty := minI(absI64(d), absI64(v))
		pnl := (trade.FilledPrice - pos.AvgPrice) * float64(closedQty) * float64(sign(v))
		pnl -= trade.Commission

		pos.RealizedPnL += pnl
		p.totalRealized += pnl
		pos.Volume = v + d

		if pos.Volume == 0 {
			pos.AvgPrice = 0
		} else if sign(pos.Volume) != sign(v) {
			// Reduction crossed zero: the remainder opens fresh in the
			// opposite direction at the fill price.
			pos.AvgPrice = trade.FilledPrice
		}
	}

	p.cash -= trade.Commission
}

// Mark updates unrealized PnL for symbol against the given mark price.
// No-op if the symbol has never been traded.
func (p *Portfolio) Mark(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	if pos.Volume == 0 {
		pos.UnrealizedPnL = 0
		return
	}
	pos.UnrealizedPnL = (price - pos.AvgPrice) * float64(pos.Volume)
}

// Position returns a read-only snapshot of the position for symbol, or the
// zero value if the symbol has never been traded.
func (p *Portfolio) Position(symbol string) types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return types.Position{Symbol: symbol}
	}
	return *pos
}

// TotalPnL returns realized plus the sum of unrealized PnL across all
// positions, in deterministic (insertion) order.
func (p *Portfolio) TotalPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := p.totalRealized
	for _, symbol := range p.order {
		total += p.positions[symbol].UnrealizedPnL
	}
	return total
}

// Symbols returns the traded symbols in insertion order.
func (p *Portfolio) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

func sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func absf(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minI(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
