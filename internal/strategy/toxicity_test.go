package strategy

import (
	"testing"
	"time"

	"github.com/nullma/ttquant/pkg/types"
)

func TestFlowTrackerNoFills(t *testing.T) {
	t.Parallel()
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	metrics := ft.CalculateToxicity()
	if metrics.ToxicityScore != 0 {
		t.Errorf("expected toxicity score 0 with no fills, got %f", metrics.ToxicityScore)
	}
	if metrics.IsAverse {
		t.Error("expected IsAverse false with no fills")
	}
	if mult := ft.GetSpreadMultiplier(); mult != 1.0 {
		t.Errorf("expected spread multiplier 1.0 with no fills, got %f", mult)
	}
}

func TestFlowTrackerDirectionalImbalance(t *testing.T) {
	t.Parallel()
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(Fill{
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Side:      types.BUY,
			Symbol:    "BTCUSDT",
			Price:     100,
			Volume:    1,
			TradeID:   string(rune('A' + i)),
		})
	}

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance != 1.0 {
		t.Errorf("expected directional imbalance 1.0, got %f", metrics.DirectionalImbalance)
	}
	if metrics.ToxicityScore <= 0.6 {
		t.Errorf("expected toxicity score >0.6 with 100%% imbalance, got %f", metrics.ToxicityScore)
	}
	if !metrics.IsAverse {
		t.Error("expected IsAverse true with 100% directional imbalance")
	}
}

func TestFlowTrackerEvictsStaleFills(t *testing.T) {
	t.Parallel()
	ft := NewFlowTracker(50*time.Millisecond, 0.6, 120*time.Second, 3.0)

	ft.AddFill(Fill{Timestamp: time.Now(), Side: types.BUY, Symbol: "BTCUSDT", Price: 100, Volume: 1})
	time.Sleep(80 * time.Millisecond)

	if got := ft.GetFillCount(); got != 0 {
		t.Errorf("GetFillCount() after window elapsed = %d, want 0", got)
	}
}

func TestFlowTrackerIsFlowToxic(t *testing.T) {
	t.Parallel()
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(Fill{Timestamp: now.Add(time.Duration(i) * time.Second), Side: types.SELL, Symbol: "BTCUSDT", Price: 100, Volume: 1})
	}
	if !ft.IsFlowToxic() {
		t.Error("expected IsFlowToxic true after a run of one-directional fills")
	}
}
