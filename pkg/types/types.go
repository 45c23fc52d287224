// Package types defines the shared data model used across the trading core —
// market ticks, orders, fills, and the position/portfolio bookkeeping built on
// top of them. It has no dependencies on internal packages, so it can be
// imported by every layer (codec, bus, risk, strategy, backtest).
package types

import "fmt"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Sign returns +1 for BUY, -1 for SELL.
func (s Side) Sign() float64 {
	if s == SELL {
		return -1
	}
	return 1
}

// TradeStatus is the outcome of an attempted fill.
type TradeStatus string

const (
	StatusFilled   TradeStatus = "FILLED"
	StatusRejected TradeStatus = "REJECTED"
)

// ————————————————————————————————————————————————————————————————————————
// Wire-level records (C1 payloads)
// ————————————————————————————————————————————————————————————————————————

// MarketData is a single tick: one instrument observed at one instant.
// Immutable after construction.
type MarketData struct {
	Symbol        string
	LastPrice     float64
	Volume        float64
	ExchangeTime  int64 // nanoseconds since epoch, exchange-origin
	LocalTime     int64 // nanoseconds since epoch, local receive time
	Exchange      string
}

// Order is a strategy's request to trade, addressed to a gateway.
// Its lifetime ends when the correlated Trade is received.
type Order struct {
	ID        string
	Strategy  string
	Symbol    string
	Price     float64
	Volume    int64
	Side      Side
	Timestamp int64
}

// Trade is a fill report: one per Order (partial fills are out of scope).
type Trade struct {
	TradeID      string
	OrderID      string
	StrategyID   string
	Symbol       string
	Side         Side
	FilledPrice  float64
	FilledVolume int64
	TradeTime    int64
	Status       TradeStatus
	ErrorCode    int64
	ErrorMessage string
	IsRetryable  bool
	Commission   float64
}

// ————————————————————————————————————————————————————————————————————————
// Portfolio ledger (C3)
// ————————————————————————————————————————————————————————————————————————

// Position is one instrument's holding within a Portfolio. Volume is signed:
// positive is long, negative is short. Invariant: when Volume == 0,
// AvgPrice == 0 and UnrealizedPnL == 0.
type Position struct {
	Symbol        string
	Volume        int64
	AvgPrice      float64
	UnrealizedPnL float64
	RealizedPnL   float64
}

// IsFlat reports whether the position currently holds no volume.
func (p Position) IsFlat() bool {
	return p.Volume == 0
}

// String renders a position for logs, e.g. "BTCUSDT 3@150.0000 pnl=12.50/0.00".
func (p Position) String() string {
	return fmt.Sprintf("%s %d@%.4f pnl=%.2f/%.2f", p.Symbol, p.Volume, p.AvgPrice, p.RealizedPnL, p.UnrealizedPnL)
}

// ————————————————————————————————————————————————————————————————————————
// Risk gate (C4)
// ————————————————————————————————————————————————————————————————————————

// RejectReason identifies which pre-trade rule rejected an order.
type RejectReason string

const (
	RejectNone           RejectReason = ""
	RejectDailyLoss      RejectReason = "RISK_DAILY_LOSS"
	RejectMaxPositions   RejectReason = "RISK_MAX_POSITIONS"
	RejectPositionSize   RejectReason = "RISK_POSITION_SIZE"
	RejectTotalExposure  RejectReason = "RISK_TOTAL_EXPOSURE"
)

// RiskConfig parameterizes the Risk Gate. Immutable after construction.
type RiskConfig struct {
	StopLossPct         float64
	TakeProfitPct       float64
	MaxPositionPct      float64 // fraction of capital, per instrument
	MaxTotalPositionPct float64 // fraction of capital, aggregate
	DailyLossLimit      float64 // absolute, positive number
	MaxPositions        int
	Enabled             bool
}

// PositionRisk is the Risk Gate's own record of one open, risk-tracked
// position — independent of (but numerically consistent with) the strategy's
// own Position in its Portfolio.
type PositionRisk struct {
	Symbol        string
	EntryPrice    float64
	Mark          float64
	Volume        int64 // signed
	UnrealizedPnL float64
	StopPrice     float64
	TakeProfit    float64
	ShouldClose   bool
	CloseReason   string
}

// CloseSignal is emitted by the Risk Gate's Mark call when a tracked
// position's stop-loss or take-profit has been crossed.
type CloseSignal struct {
	Symbol string
	Volume int64 // signed volume to close, full open size
	Reason string
}

// ————————————————————————————————————————————————————————————————————————
// Performance analyzer (C10)
// ————————————————————————————————————————————————————————————————————————

// EquitySample is one point on the equity curve.
type EquitySample struct {
	Timestamp int64 // nanoseconds since epoch
	Equity    float64
}

// BacktestReport summarizes one strategy's full backtest run.
type BacktestReport struct {
	StrategyID string
	PeriodFrom int64
	PeriodTo   int64

	TotalReturn      float64
	AnnualizedReturn float64
	RealizedPnL      float64
	UnrealizedPnL    float64

	SharpeRatio         float64
	MaxDrawdown         float64
	MaxDrawdownDuration float64 // days
	AnnualizedVol       float64

	TotalTrades  int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	ProfitFactor  float64

	AvgWin      float64
	AvgLoss     float64
	LargestWin  float64
	LargestLoss float64

	TotalCommission float64
	TotalSlippage   float64

	AvgPositionDuration float64 // days
	LargestPositionSize int64
}
