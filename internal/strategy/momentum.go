package strategy

import (
	"log/slog"
	"math"

	"github.com/nullma/ttquant/internal/ledger"
	"github.com/nullma/ttquant/pkg/types"
)

// Momentum is the rolling-window breakout reference strategy: it keeps a
// window of the last `lookback`+1 prices (`lookback` returns) and the last
// `lookback` volumes, computes the z-score of
// the latest one-period return against the window's mean/stdev, and pairs
// it with a rolling-volume-ratio confirmation before emitting a signal.
type Momentum struct {
	id     string
	symbol string

	lookback          int
	breakoutThreshold float64
	volumeThreshold   float64
	orderVolume       int64

	prices  []float64
	volumes []float64

	sink OrderSink
	pf   *ledger.Portfolio

	logger *slog.Logger
}

// NewMomentum builds the strategy for one symbol.
func NewMomentum(id, symbol string, lookback int, breakoutThreshold, volumeThreshold float64, orderVolume int64, logger *slog.Logger) *Momentum {
	return &Momentum{
		id:                id,
		symbol:            symbol,
		lookback:          lookback,
		breakoutThreshold: breakoutThreshold,
		volumeThreshold:   volumeThreshold,
		orderVolume:       orderVolume,
		pf:                ledger.New(),
		logger:            logger.With("component", "strategy", "id", id),
	}
}

// ID implements Strategy.
func (m *Momentum) ID() string { return m.id }

// Portfolio implements Strategy.
func (m *Momentum) Portfolio() *ledger.Portfolio { return m.pf }

// SetOrderSink injects the gateway handle the strategy emits orders through.
func (m *Momentum) SetOrderSink(sink OrderSink) { m.sink = sink }

// OnMarketData implements Strategy.
func (m *Momentum) OnMarketData(md *types.MarketData) {
	if md.Symbol != m.symbol {
		return
	}

	m.prices = append(m.prices, md.LastPrice)
	if len(m.prices) > m.lookback+1 {
		m.prices = m.prices[len(m.prices)-(m.lookback+1):]
	}
	m.volumes = append(m.volumes, md.Volume)
	if len(m.volumes) > m.lookback {
		m.volumes = m.volumes[len(m.volumes)-m.lookback:]
	}

	if len(m.prices) < m.lookback+1 {
		return
	}

	returns := make([]float64, 0, m.lookback)
	for i := 1; i < len(m.prices); i++ {
		prev := m.prices[i-1]
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (m.prices[i]-prev)/prev)
	}

	mean, stdev := meanStdev(returns)
	latest := returns[len(returns)-1]

	var z float64
	if stdev > 0 {
		z = (latest - mean) / stdev
	}

	// The ratio compares the latest volume against the mean of the prior
	// window, excluding the just-appended sample from its own denominator
	// (original_source/python/strategy/strategies/momentum.py's
	// calculate_volume_ratio).
	volRatio := 1.0
	if prior := m.volumes[:len(m.volumes)-1]; len(prior) > 0 {
		volMean, _ := meanStdev(prior)
		if volMean > 0 {
			volRatio = md.Volume / volMean
		}
	}

	pos := m.pf.Position(m.symbol)

	switch {
	case z > m.breakoutThreshold && volRatio > m.volumeThreshold && pos.Volume == 0:
		m.emit(types.BUY, m.orderVolume, md.LastPrice, md.ExchangeTime)
	case z < -m.breakoutThreshold && pos.Volume > 0:
		m.emit(types.SELL, pos.Volume, md.LastPrice, md.ExchangeTime)
	}
}

func (m *Momentum) emit(side types.Side, volume int64, price float64, ts int64) {
	if m.sink == nil || volume <= 0 {
		return
	}
	order := types.Order{
		ID:        NextOrderID(m.id),
		Strategy:  m.id,
		Symbol:    m.symbol,
		Price:     price,
		Volume:    volume,
		Side:      side,
		Timestamp: ts,
	}
	if err := m.sink.SendOrder(order); err != nil {
		m.logger.Warn("order send failed", "error", err, "order_id", order.ID)
	}
}

// OnTrade implements Strategy.
func (m *Momentum) OnTrade(trade *types.Trade) {}

func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}
