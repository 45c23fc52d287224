// Package risk implements the Risk Gate (C4): pre-trade validation and
// post-fill stop/target monitoring with daily counters.
//
// Gate enforces four pre-trade rules in a fixed order (first match wins) and
// tracks one PositionRisk per open symbol, evaluated on every tick via Mark
// to detect stop-loss / take-profit crossings.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nullma/ttquant/pkg/types"
)

// Gate is the risk layer shared by every strategy that opts in to it. It is
// safe for concurrent use, though the engines that own one only ever call it
// from a single goroutine.
type Gate struct {
	mu     sync.Mutex
	cfg    types.RiskConfig
	logger *slog.Logger

	capital float64 // current capital, advanced by realized PnL via UpdatePnL

	dailyPnL      float64
	dailyTrades   int
	lastResetDate time.Time

	positions map[string]*types.PositionRisk
	order     []string // insertion order
}

// NewGate creates a risk gate with an initial capital figure used for the
// position-sizing and exposure-fraction checks.
func NewGate(cfg types.RiskConfig, initialCapital float64, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:           cfg,
		capital:       initialCapital,
		lastResetDate: today(),
		positions:     make(map[string]*types.PositionRisk),
		logger:        logger.With("component", "risk"),
	}
}

func today() time.Time {
	y, m, d := time.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// resetDailyLocked clears the daily counters the first time a method is
// called after the local calendar date has advanced. Caller must hold mu.
func (g *Gate) resetDailyLocked() {
	t := today()
	if t.After(g.lastResetDate) {
		g.logger.Info("daily risk stats reset", "previous_pnl", g.dailyPnL, "previous_trades", g.dailyTrades)
		g.dailyPnL = 0
		g.dailyTrades = 0
		g.lastResetDate = t
	}
}

// PreTradeCheck evaluates the four rejection rules in order and returns
// whether the order is accepted, along with the reason if not.
func (g *Gate) PreTradeCheck(symbol string, side types.Side, volume int64, price float64) (accept bool, reason types.RejectReason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetDailyLocked()

	if !g.cfg.Enabled {
		return true, types.RejectNone
	}

	if g.dailyPnL <= -g.cfg.DailyLossLimit {
		g.logger.Warn("order rejected", "reason", types.RejectDailyLoss, "daily_pnl", g.dailyPnL)
		return false, types.RejectDailyLoss
	}

	_, opensExisting := g.positions[symbol]
	if !opensExisting && len(g.positions) >= g.cfg.MaxPositions {
		g.logger.Warn("order rejected", "reason", types.RejectMaxPositions, "open_positions", len(g.positions))
		return false, types.RejectMaxPositions
	}

	notional := float64(volume) * price
	if notional > g.capital*g.cfg.MaxPositionPct {
		g.logger.Warn("order rejected", "reason", types.RejectPositionSize, "notional", notional)
		return false, types.RejectPositionSize
	}

	total := notional
	for _, symbolID := range g.order {
		pr := g.positions[symbolID]
		total += absf64(float64(pr.Volume) * pr.Mark)
	}
	if total > g.capital*g.cfg.MaxTotalPositionPct {
		g.logger.Warn("order rejected", "reason", types.RejectTotalExposure, "total_exposure", total)
		return false, types.RejectTotalExposure
	}

	return true, types.RejectNone
}

// OnFill registers (or updates) an open position to track against stop-loss
// and take-profit. volume == 0 removes the tracked position (closed).
func (g *Gate) OnFill(symbol string, entryPrice float64, volume int64, side types.Side) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if volume == 0 {
		if _, ok := g.positions[symbol]; ok {
			delete(g.positions, symbol)
			g.order = removeString(g.order, symbol)
		}
		return
	}

	signedVolume := volume
	var stop, target float64
	if side == types.BUY {
		stop = entryPrice * (1 - g.cfg.StopLossPct)
		target = entryPrice * (1 + g.cfg.TakeProfitPct)
	} else {
		signedVolume = -volume
		stop = entryPrice * (1 + g.cfg.StopLossPct)
		target = entryPrice * (1 - g.cfg.TakeProfitPct)
	}

	if _, existed := g.positions[symbol]; !existed {
		g.order = append(g.order, symbol)
	}
	g.positions[symbol] = &types.PositionRisk{
		Symbol:     symbol,
		EntryPrice: entryPrice,
		Mark:       entryPrice,
		Volume:     signedVolume,
		StopPrice:  stop,
		TakeProfit: target,
	}

	g.logger.Info("position risk registered", "symbol", symbol, "entry", entryPrice, "stop", stop, "target", target)
}

// Mark updates the tracked position's unrealized PnL against price and
// returns a CloseSignal if this tick crosses the stop-loss or take-profit.
// Returns nil if the symbol is untracked or no trigger fired.
func (g *Gate) Mark(symbol string, price float64) *types.CloseSignal {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cfg.Enabled {
		return nil
	}

	pr, ok := g.positions[symbol]
	if !ok {
		return nil
	}

	pr.Mark = price
	pr.UnrealizedPnL = (price - pr.EntryPrice) * float64(pr.Volume)

	var reason string
	switch {
	case pr.Volume > 0 && price <= pr.StopPrice:
		reason = "Stop Loss triggered"
	case pr.Volume > 0 && price >= pr.TakeProfit:
		reason = "Take Profit triggered"
	case pr.Volume < 0 && price >= pr.StopPrice:
		reason = "Stop Loss triggered"
	case pr.Volume < 0 && price <= pr.TakeProfit:
		reason = "Take Profit triggered"
	default:
		return nil
	}

	pr.ShouldClose = true
	pr.CloseReason = reason

	return &types.CloseSignal{Symbol: symbol, Volume: pr.Volume, Reason: reason}
}

// UpdatePnL advances the daily realized-PnL counter and the running capital
// figure used by the sizing and exposure checks.
func (g *Gate) UpdatePnL(realized float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetDailyLocked()
	g.dailyPnL += realized
	g.dailyTrades++
	g.capital += realized
}

// SuggestSize computes an order volume sized to risk at most riskPerTrade of
// capital against the configured stop-loss distance, capped by the
// per-instrument position-size limit, rounded down, minimum 1.
func (g *Gate) SuggestSize(symbol string, price float64, riskPerTrade float64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if price <= 0 || g.cfg.StopLossPct <= 0 {
		return 1
	}

	byPositionLimit := g.capital * g.cfg.MaxPositionPct / price
	byRisk := (g.capital * riskPerTrade) / (price * g.cfg.StopLossPct)

	v := byPositionLimit
	if byRisk < v {
		v = byRisk
	}

	rounded := int64(v)
	if rounded < 1 {
		rounded = 1
	}
	return rounded
}

// DailyPnL returns the current daily realized PnL counter, after applying
// any pending calendar-date rollover.
func (g *Gate) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDailyLocked()
	return g.dailyPnL
}

func absf64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
