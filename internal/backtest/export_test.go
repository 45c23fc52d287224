package backtest

import (
	"strings"
	"testing"

	"github.com/nullma/ttquant/pkg/types"
)

func TestAnalyzerExportTradesCSVRendersDecimalColumns(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	a.RecordTrade(types.Trade{
		TradeID: "t1", OrderID: "o1", Symbol: "BTCUSDT", Side: types.BUY,
		FilledPrice: 100.5, FilledVolume: 2, Commission: 0.25, TradeTime: 0,
		Status: types.StatusFilled,
	}, 0)

	var sb strings.Builder
	if err := a.ExportTradesCSV(&sb); err != nil {
		t.Fatalf("ExportTradesCSV: %v", err)
	}

	out := sb.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (header + 1 row):\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "100.5") || !strings.Contains(lines[1], "201") {
		t.Fatalf("row missing expected price/notional columns: %s", lines[1])
	}
}

func TestAnalyzerExportTradesCSVSkipsRejectedTrades(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	a.RecordTrade(types.Trade{TradeID: "t1", Status: types.StatusRejected}, 0)

	var sb strings.Builder
	if err := a.ExportTradesCSV(&sb); err != nil {
		t.Fatalf("ExportTradesCSV: %v", err)
	}
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected header-only output for an analyzer with no filled trades, got:\n%s", sb.String())
	}
}
