package backtest

import (
	"math"
	"time"

	"github.com/nullma/ttquant/pkg/types"
)

const dayNanos = float64(24 * time.Hour)

// Analyzer accumulates an equity curve and a filled-trade tape for exactly
// one strategy and derives every BacktestReport metric from them. Not
// thread-safe: it is driven only from the backtest engine's single
// goroutine, per §4.10.
type Analyzer struct {
	equity         []types.EquitySample
	trades         []types.Trade
	totalCommission float64
	totalSlippage   float64
}

// NewAnalyzer returns an empty analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// RecordEquity appends one point to the equity curve. Samples must be
// supplied in non-decreasing timestamp order.
func (a *Analyzer) RecordEquity(timestampNs int64, equity float64) {
	a.equity = append(a.equity, types.EquitySample{Timestamp: timestampNs, Equity: equity})
}

// RecordTrade appends a filled trade to the tape and accumulates its
// commission and slippage cost. Rejected trades are not recorded.
func (a *Analyzer) RecordTrade(trade types.Trade, slippageCost float64) {
	if trade.Status != types.StatusFilled {
		return
	}
	a.trades = append(a.trades, trade)
	a.totalCommission += trade.Commission
	a.totalSlippage += slippageCost
}

// Report computes every metric over the recorded curve and trade tape. An
// empty equity curve (data source exhausted before any tick) yields a
// report with every derived metric at its zero value, per §4.9's
// first-tick-exhaustion contract.
func (a *Analyzer) Report(strategyID string, periodFrom, periodTo int64, initialCapital, realizedPnL, unrealizedPnL float64) types.BacktestReport {
	report := types.BacktestReport{
		StrategyID:      strategyID,
		PeriodFrom:      periodFrom,
		PeriodTo:        periodTo,
		RealizedPnL:     realizedPnL,
		UnrealizedPnL:   unrealizedPnL,
		TotalCommission: a.totalCommission,
		TotalSlippage:   a.totalSlippage,
	}

	if len(a.equity) == 0 {
		return report
	}

	final := a.equity[len(a.equity)-1].Equity
	if initialCapital != 0 {
		report.TotalReturn = (final - initialCapital) / initialCapital
	}

	durationDays := float64(periodTo-periodFrom) / dayNanos
	if durationDays > 0 {
		report.AnnualizedReturn = report.TotalReturn * (365 / durationDays)
	}

	returns := simpleReturns(a.equity)
	mean, stdev := meanStdev(returns)
	if stdev > 0 && len(returns) >= 2 {
		const annualRF = 0 // no risk-free rate input in this schema
		dailyRF := annualRF / 365.0
		report.SharpeRatio = (mean - dailyRF) / stdev * math.Sqrt(365)
	}
	report.AnnualizedVol = stdev * math.Sqrt(365)

	report.MaxDrawdown, report.MaxDrawdownDuration = maxDrawdown(a.equity)

	rt := summarizeRoundTrips(a.trades)
	report.TotalTrades = len(a.trades)
	report.WinningTrades = rt.wins
	report.LosingTrades = rt.losses
	if rt.wins+rt.losses > 0 {
		report.WinRate = float64(rt.wins) / float64(rt.wins+rt.losses)
	}
	report.AvgWin = rt.avgWin
	report.AvgLoss = rt.avgLoss
	report.LargestWin = rt.largestWin
	report.LargestLoss = rt.largestLoss
	report.ProfitFactor = rt.profitFactor
	report.AvgPositionDuration = rt.avgDurationDays
	report.LargestPositionSize = rt.largestSize

	return report
}

func simpleReturns(equity []types.EquitySample) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}
		out = append(out, (equity[i].Equity-prev)/prev)
	}
	return out
}

// meanStdev computes population mean and standard deviation, matching the
// rolling-statistics helper used by the momentum strategy (C12) for
// consistency of convention across the codebase.
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

func maxDrawdown(equity []types.EquitySample) (maxDD float64, maxDDDurationDays float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0].Equity
	peakTs := equity[0].Timestamp

	for _, e := range equity {
		if e.Equity > peak {
			peak = e.Equity
			peakTs = e.Timestamp
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - e.Equity) / peak
		if dd > maxDD {
			maxDD = dd
			maxDDDurationDays = float64(e.Timestamp-peakTs) / dayNanos
		}
	}
	return maxDD, maxDDDurationDays
}

type roundTripSummary struct {
	wins, losses                 int
	avgWin, avgLoss               float64
	largestWin, largestLoss       float64
	profitFactor                  float64
	avgDurationDays               float64
	largestSize                   int64
}

// symState tracks one symbol's running average-cost position while replaying
// the trade tape, mirroring ledger.Portfolio.ApplyTrade's algorithm (C3) but
// scoped to this analyzer's own bookkeeping rather than the live ledger.
type symState struct {
	volume   int64
	avgPrice float64
	openedAt int64
}

// summarizeRoundTrips walks trades in order, pairing opposing fills per
// symbol via the average-cost model, and aggregates each closing event's
// realized PnL into winning/losing statistics.
func summarizeRoundTrips(trades []types.Trade) roundTripSummary {
	states := make(map[string]*symState)
	var sumWins, sumLosses float64
	var totalDurationDays float64
	var closeCount int
	var largestSize int64
	var summary roundTripSummary

	for _, t := range trades {
		st, ok := states[t.Symbol]
		if !ok {
			st = &symState{}
			states[t.Symbol] = st
		}

		d := int64(float64(t.FilledVolume) * t.Side.Sign())
		v := st.volume
		opening := v == 0 || sign64(v) == sign64(d)

		if opening {
			totalCost := st.avgPrice*absF(v) + t.FilledPrice*absF(d)
			newVol := v + d
			if newVol != 0 {
				st.avgPrice = totalCost / absF(newVol)
			} else {
				st.avgPrice = 0
			}
			if v == 0 {
				st.openedAt = t.TradeTime
			}
			st.volume = newVol
		} else {
			closedQty := minI64(absI64(d), absI64(v))
			pnl := (t.FilledPrice - st.avgPrice) * float64(closedQty) * float64(sign64(v))
			pnl -= t.Commission
			closeCount++

			switch {
			case pnl > 0:
				summary.wins++
				sumWins += pnl
				if pnl > summary.largestWin {
					summary.largestWin = pnl
				}
			case pnl < 0:
				summary.losses++
				sumLosses += pnl
				if pnl < summary.largestLoss {
					summary.largestLoss = pnl
				}
			}

			totalDurationDays += float64(t.TradeTime-st.openedAt) / dayNanos

			newVol := v + d
			st.volume = newVol
			if newVol == 0 {
				st.avgPrice = 0
			} else if sign64(newVol) != sign64(v) {
				st.avgPrice = t.FilledPrice
				st.openedAt = t.TradeTime
			}
		}

		if absI64(st.volume) > largestSize {
			largestSize = absI64(st.volume)
		}
	}

	if summary.wins > 0 {
		summary.avgWin = sumWins / float64(summary.wins)
	}
	if summary.losses > 0 {
		summary.avgLoss = sumLosses / float64(summary.losses)
	}
	if sumLosses != 0 {
		summary.profitFactor = sumWins / math.Abs(sumLosses)
	}
	if closeCount > 0 {
		summary.avgDurationDays = totalDurationDays / float64(closeCount)
	}
	summary.largestSize = largestSize

	return summary
}

func sign64(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absF(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
