package ledger

import (
	"testing"

	"github.com/nullma/ttquant/pkg/types"
)

func fill(symbol string, side types.Side, price float64, volume int64) types.Trade {
	return types.Trade{Symbol: symbol, Side: side, FilledPrice: price, FilledVolume: volume, Status: types.StatusFilled}
}

func TestApplyTradeOpeningAndAdding(t *testing.T) {
	t.Parallel()

	p := New()
	p.ApplyTrade(fill("BTCUSDT", types.BUY, 100, 1))
	p.ApplyTrade(fill("BTCUSDT", types.BUY, 200, 1))

	pos := p.Position("BTCUSDT")
	if pos.Volume != 2 {
		t.Fatalf("Volume = %d, want 2", pos.Volume)
	}
	if pos.AvgPrice != 150 {
		t.Fatalf("AvgPrice = %v, want 150", pos.AvgPrice)
	}
}

func TestApplyTradeAverageCostLadder(t *testing.T) {
	t.Parallel()

	// Scenario from the testable-properties fixture: BUY 1@100, BUY 1@200,
	// SELL 1@250. Resulting volume=1, avg=150, realized=(250-150)*1=100.
	p := New()
	p.ApplyTrade(fill("BTCUSDT", types.BUY, 100, 1))
	p.ApplyTrade(fill("BTCUSDT", types.BUY, 200, 1))
	p.ApplyTrade(fill("BTCUSDT", types.SELL, 250, 1))

	pos := p.Position("BTCUSDT")
	if pos.Volume != 1 {
		t.Fatalf("Volume = %d, want 1", pos.Volume)
	}
	if pos.AvgPrice != 150 {
		t.Fatalf("AvgPrice = %v, want 150", pos.AvgPrice)
	}
	if pos.RealizedPnL != 100 {
		t.Fatalf("RealizedPnL = %v, want 100", pos.RealizedPnL)
	}

	p.Mark("BTCUSDT", 300)
	pos = p.Position("BTCUSDT")
	if pos.UnrealizedPnL != 150 {
		t.Fatalf("UnrealizedPnL = %v, want 150", pos.UnrealizedPnL)
	}
}

func TestApplyTradeReversal(t *testing.T) {
	t.Parallel()

	p := New()
	p.ApplyTrade(fill("ETHUSDT", types.BUY, 100, 2))
	p.ApplyTrade(fill("ETHUSDT", types.SELL, 110, 5)) // closes 2 long, opens 3 short at 110

	pos := p.Position("ETHUSDT")
	if pos.Volume != -3 {
		t.Fatalf("Volume = %d, want -3", pos.Volume)
	}
	if pos.AvgPrice != 110 {
		t.Fatalf("AvgPrice = %v, want 110", pos.AvgPrice)
	}
	wantRealized := (110.0 - 100.0) * 2
	if pos.RealizedPnL != wantRealized {
		t.Fatalf("RealizedPnL = %v, want %v", pos.RealizedPnL, wantRealized)
	}
}

func TestApplyTradeFlatResetsAvgPrice(t *testing.T) {
	t.Parallel()

	p := New()
	p.ApplyTrade(fill("SOLUSDT", types.BUY, 50, 1))
	p.ApplyTrade(fill("SOLUSDT", types.SELL, 60, 1))

	pos := p.Position("SOLUSDT")
	if pos.Volume != 0 || pos.AvgPrice != 0 {
		t.Fatalf("flat position should reset avg price: %+v", pos)
	}
}

func TestApplyTradeCommissionReducesRealized(t *testing.T) {
	t.Parallel()

	p := New()
	tr := fill("BTCUSDT", types.BUY, 100, 1)
	tr.Commission = 0.5
	p.ApplyTrade(tr)

	closeTr := fill("BTCUSDT", types.SELL, 110, 1)
	closeTr.Commission = 0.5
	p.ApplyTrade(closeTr)

	pos := p.Position("BTCUSDT")
	want := (110.0 - 100.0) - 1.0 // 10 pnl minus 2x 0.5 commission
	if pos.RealizedPnL != want {
		t.Fatalf("RealizedPnL = %v, want %v", pos.RealizedPnL, want)
	}
}

func TestTotalPnLIdentity(t *testing.T) {
	t.Parallel()

	p := New()
	p.ApplyTrade(fill("BTCUSDT", types.BUY, 100, 1))
	p.ApplyTrade(fill("BTCUSDT", types.SELL, 150, 1))
	p.ApplyTrade(fill("ETHUSDT", types.BUY, 2000, 1))
	p.Mark("ETHUSDT", 2100)

	got := p.TotalPnL()
	want := 50.0 + 100.0 // realized on BTCUSDT + unrealized on ETHUSDT
	if got != want {
		t.Fatalf("TotalPnL() = %v, want %v", got, want)
	}
}

func TestSymbolsInsertionOrder(t *testing.T) {
	t.Parallel()

	p := New()
	p.ApplyTrade(fill("ETHUSDT", types.BUY, 1, 1))
	p.ApplyTrade(fill("BTCUSDT", types.BUY, 1, 1))
	p.ApplyTrade(fill("ETHUSDT", types.BUY, 1, 1))

	got := p.Symbols()
	want := []string{"ETHUSDT", "BTCUSDT"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Symbols() = %v, want %v", got, want)
	}
}
