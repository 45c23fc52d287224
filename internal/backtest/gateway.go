package backtest

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/nullma/ttquant/pkg/types"
)

// SlippageModel selects how a Simulated Gateway prices a fill relative to
// the order's limit price.
type SlippageModel string

const (
	SlippageNone        SlippageModel = "none"
	SlippageFixed       SlippageModel = "fixed"
	SlippagePercentage  SlippageModel = "percentage"
	SlippageMarketDepth SlippageModel = "market_depth"
)

// GatewayConfig parameterizes a SimulatedGateway.
type GatewayConfig struct {
	SlippageModel SlippageModel
	SlippageValue float64
	TakerFee      float64
	MinCommission float64
	RejectRate    float64
	Seed          uint64
}

// TradeCallback receives every Trade a SimulatedGateway produces, alongside
// the slippage cost incurred on that fill (zero for rejections).
type TradeCallback func(trade types.Trade, slippageCost float64)

// SimulatedGateway synchronously turns an Order into a Trade using one of
// four slippage models, a seeded rejection draw, and taker-only commission.
// The PRNG is seeded explicitly at construction (math/rand/v2's PCG source)
// so two runs built with the same seed draw an identical rejection
// sequence — the reference implementation's unseeded global PRNG made this
// nondeterministic, which this rewrite fixes per the determinism
// requirement on the backtest engine.
type SimulatedGateway struct {
	cfg     GatewayConfig
	onTrade TradeCallback

	mu   sync.Mutex
	rng  *rand.Rand
	seq  uint64
}

// NewSimulatedGateway constructs a gateway whose rejection draws are
// reproducible for a given cfg.Seed.
func NewSimulatedGateway(cfg GatewayConfig, onTrade TradeCallback) *SimulatedGateway {
	return &SimulatedGateway{
		cfg:     cfg,
		onTrade: onTrade,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
	}
}

// SendOrder fills or rejects order against currentPrice (the last seen
// price for order.Symbol, supplied by the backtest engine) and invokes the
// registered trade callback synchronously before returning.
func (g *SimulatedGateway) SendOrder(order types.Order, currentPrice float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	tradeID := fmt.Sprintf("bt_%d", g.seq)

	if g.rng.Float64() < g.cfg.RejectRate {
		g.onTrade(types.Trade{
			TradeID:      tradeID,
			OrderID:      order.ID,
			StrategyID:   order.Strategy,
			Symbol:       order.Symbol,
			Side:         order.Side,
			TradeTime:    order.Timestamp,
			Status:       types.StatusRejected,
			ErrorCode:    1001,
			ErrorMessage: "simulated gateway rejection",
			IsRetryable:  true,
		}, 0)
		return
	}

	filled := g.applySlippage(order, currentPrice)
	commission := filled * float64(order.Volume) * g.cfg.TakerFee
	if commission < g.cfg.MinCommission {
		commission = g.cfg.MinCommission
	}
	slippageCost := math.Abs(filled-order.Price) * float64(order.Volume)

	g.onTrade(types.Trade{
		TradeID:      tradeID,
		OrderID:      order.ID,
		StrategyID:   order.Strategy,
		Symbol:       order.Symbol,
		Side:         order.Side,
		FilledPrice:  filled,
		FilledVolume: order.Volume,
		TradeTime:    order.Timestamp,
		Status:       types.StatusFilled,
		Commission:   commission,
	}, slippageCost)
}

func (g *SimulatedGateway) applySlippage(order types.Order, currentPrice float64) float64 {
	switch g.cfg.SlippageModel {
	case SlippageFixed:
		if order.Side == types.SELL {
			return order.Price - g.cfg.SlippageValue
		}
		return order.Price + g.cfg.SlippageValue
	case SlippagePercentage:
		if order.Side == types.SELL {
			return order.Price * (1 - g.cfg.SlippageValue)
		}
		return order.Price * (1 + g.cfg.SlippageValue)
	case SlippageMarketDepth:
		return currentPrice
	case SlippageNone:
		fallthrough
	default:
		return order.Price
	}
}
