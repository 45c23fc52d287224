package store

import (
	"testing"

	"github.com/nullma/ttquant/internal/ledger"
	"github.com/nullma/ttquant/pkg/types"
)

func TestSaveAndLoadSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pf := ledger.New()
	pf.ApplyTrade(types.Trade{Symbol: "BTCUSDT", Side: types.BUY, FilledPrice: 100, FilledVolume: 2, Status: types.StatusFilled})
	pf.Mark("BTCUSDT", 110)

	if err := s.SaveSnapshot("strat1", pf); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, err := s.LoadSnapshot("strat1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadSnapshot returned nil")
	}

	pos, ok := loaded["BTCUSDT"]
	if !ok {
		t.Fatal("snapshot missing BTCUSDT")
	}
	if pos.Volume != 2 {
		t.Errorf("Volume = %d, want 2", pos.Volume)
	}
	if pos.AvgPrice != 100 {
		t.Errorf("AvgPrice = %v, want 100", pos.AvgPrice)
	}
	if pos.UnrealizedPnL != 20 {
		t.Errorf("UnrealizedPnL = %v, want 20", pos.UnrealizedPnL)
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadSnapshot("nonexistent")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing snapshot, got %+v", loaded)
	}
}

func TestSaveSnapshotOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pf1 := ledger.New()
	pf1.ApplyTrade(types.Trade{Symbol: "BTCUSDT", Side: types.BUY, FilledPrice: 100, FilledVolume: 1, Status: types.StatusFilled})
	_ = s.SaveSnapshot("strat1", pf1)

	pf2 := ledger.New()
	pf2.ApplyTrade(types.Trade{Symbol: "BTCUSDT", Side: types.BUY, FilledPrice: 100, FilledVolume: 5, Status: types.StatusFilled})
	_ = s.SaveSnapshot("strat1", pf2)

	loaded, err := s.LoadSnapshot("strat1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded["BTCUSDT"].Volume != 5 {
		t.Errorf("Volume = %d, want 5 (latest save)", loaded["BTCUSDT"].Volume)
	}
}

func TestSaveSnapshotEmptyPortfolioLoadsEmptyMap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pf := ledger.New()
	if err := s.SaveSnapshot("empty", pf); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, err := s.LoadSnapshot("empty")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty snapshot map, got %+v", loaded)
	}
}
