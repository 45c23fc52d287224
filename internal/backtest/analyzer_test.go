package backtest

import (
	"testing"
	"time"

	"github.com/nullma/ttquant/pkg/types"
)

func ns(hours int) int64 {
	return int64(hours) * int64(time.Hour)
}

func TestAnalyzerEmptyEquityYieldsZeroReport(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	report := a.Report("s1", 0, ns(24), 10000, 0, 0)

	if report.TotalReturn != 0 || report.SharpeRatio != 0 || report.TotalTrades != 0 {
		t.Fatalf("expected zeroed report for empty equity curve, got %+v", report)
	}
}

func TestAnalyzerTotalAndAnnualizedReturn(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	a.RecordEquity(0, 10000)
	a.RecordEquity(ns(24), 11000)

	report := a.Report("s1", 0, ns(24), 10000, 1000, 0)

	wantTotal := 0.1
	if report.TotalReturn != wantTotal {
		t.Errorf("TotalReturn = %v, want %v", report.TotalReturn, wantTotal)
	}
	wantAnnualized := wantTotal * 365
	if report.AnnualizedReturn != wantAnnualized {
		t.Errorf("AnnualizedReturn = %v, want %v (linear annualization over 1 day)", report.AnnualizedReturn, wantAnnualized)
	}
}

func TestAnalyzerMaxDrawdown(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	a.RecordEquity(ns(0), 10000)
	a.RecordEquity(ns(1), 12000) // new peak
	a.RecordEquity(ns(2), 9000)  // trough: dd = (12000-9000)/12000 = 0.25
	a.RecordEquity(ns(5), 13000) // new peak, recovers

	report := a.Report("s1", ns(0), ns(5), 10000, 0, 0)

	wantDD := 0.25
	if report.MaxDrawdown != wantDD {
		t.Errorf("MaxDrawdown = %v, want %v", report.MaxDrawdown, wantDD)
	}
	wantDur := 1.0 / 24.0 // 1 hour from peak (hour 1) to trough (hour 2), in days
	if report.MaxDrawdownDuration != wantDur {
		t.Errorf("MaxDrawdownDuration = %v, want %v", report.MaxDrawdownDuration, wantDur)
	}
}

func TestAnalyzerRoundTripWinLossAndProfitFactor(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	trades := []types.Trade{
		{Symbol: "BTCUSDT", Side: types.BUY, FilledPrice: 100, FilledVolume: 1, TradeTime: ns(0), Status: types.StatusFilled},
		{Symbol: "BTCUSDT", Side: types.SELL, FilledPrice: 150, FilledVolume: 1, TradeTime: ns(1), Status: types.StatusFilled}, // closes +50
		{Symbol: "BTCUSDT", Side: types.BUY, FilledPrice: 150, FilledVolume: 1, TradeTime: ns(2), Status: types.StatusFilled},
		{Symbol: "BTCUSDT", Side: types.SELL, FilledPrice: 130, FilledVolume: 1, TradeTime: ns(3), Status: types.StatusFilled}, // closes -20
	}
	for _, tr := range trades {
		a.RecordTrade(tr, 0)
	}
	a.RecordEquity(ns(0), 10000)
	a.RecordEquity(ns(3), 10030)

	report := a.Report("s1", ns(0), ns(3), 10000, 30, 0)

	if report.TotalTrades != 4 {
		t.Fatalf("TotalTrades = %d, want 4", report.TotalTrades)
	}
	if report.WinningTrades != 1 || report.LosingTrades != 1 {
		t.Fatalf("win/loss = %d/%d, want 1/1", report.WinningTrades, report.LosingTrades)
	}
	if report.AvgWin != 50 {
		t.Errorf("AvgWin = %v, want 50", report.AvgWin)
	}
	if report.AvgLoss != -20 {
		t.Errorf("AvgLoss = %v, want -20", report.AvgLoss)
	}
	wantPF := 50.0 / 20.0
	if report.ProfitFactor != wantPF {
		t.Errorf("ProfitFactor = %v, want %v", report.ProfitFactor, wantPF)
	}
	if report.WinRate != 0.5 {
		t.Errorf("WinRate = %v, want 0.5", report.WinRate)
	}
	if report.LargestPositionSize != 1 {
		t.Errorf("LargestPositionSize = %d, want 1", report.LargestPositionSize)
	}
}

func TestAnalyzerNoLossesYieldsZeroProfitFactor(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	a.RecordTrade(types.Trade{Symbol: "BTCUSDT", Side: types.BUY, FilledPrice: 100, FilledVolume: 1, TradeTime: ns(0), Status: types.StatusFilled}, 0)
	a.RecordTrade(types.Trade{Symbol: "BTCUSDT", Side: types.SELL, FilledPrice: 110, FilledVolume: 1, TradeTime: ns(1), Status: types.StatusFilled}, 0)
	a.RecordEquity(ns(0), 10000)
	a.RecordEquity(ns(1), 10010)

	report := a.Report("s1", ns(0), ns(1), 10000, 10, 0)

	if report.LosingTrades != 0 {
		t.Fatalf("LosingTrades = %d, want 0", report.LosingTrades)
	}
	if report.ProfitFactor != 0 {
		t.Errorf("ProfitFactor = %v, want 0 when there are no losses", report.ProfitFactor)
	}
}
