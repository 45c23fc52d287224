package strategy

import (
	"testing"

	"github.com/nullma/ttquant/pkg/types"
)

func TestMomentumBreakoutThenReversal(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	m := NewMomentum("mom1", "BTCUSDT", 5, 1.0, 2.0, 1, testLogger())
	m.SetOrderSink(sink)

	prices := []float64{}
	volumes := []float64{}
	for i := 0; i < 10; i++ {
		prices = append(prices, 100)
		volumes = append(volumes, 10)
	}
	prices = append(prices, 100, 101, 103, 107, 113)
	volumes = append(volumes, 10, 10, 10, 10, 50)
	for i := 0; i < 10; i++ {
		prices = append(prices, 112)
		volumes = append(volumes, 10)
	}

	applied := 0
	for i := range prices {
		before := len(sink.orders)
		m.OnMarketData(&types.MarketData{Symbol: "BTCUSDT", LastPrice: prices[i], Volume: volumes[i], ExchangeTime: int64(i)})
		for _, o := range sink.orders[before:] {
			m.pf.ApplyTrade(types.Trade{
				Symbol:       o.Symbol,
				Side:         o.Side,
				FilledPrice:  o.Price,
				FilledVolume: o.Volume,
				Status:       types.StatusFilled,
			})
			applied++
		}
	}

	if len(sink.orders) != 2 {
		t.Fatalf("emitted %d orders, want 2: %+v", len(sink.orders), sink.orders)
	}
	if sink.orders[0].Side != types.BUY || sink.orders[0].Price != 113 {
		t.Errorf("first order = %+v, want BUY@113", sink.orders[0])
	}
	if sink.orders[1].Side != types.SELL || sink.orders[1].Price != 112 {
		t.Errorf("second order = %+v, want SELL@112", sink.orders[1])
	}
}

func TestMomentumFlatMarketEmitsNothing(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	m := NewMomentum("mom1", "BTCUSDT", 5, 1.0, 2.0, 1, testLogger())
	m.SetOrderSink(sink)

	for i := 0; i < 20; i++ {
		m.OnMarketData(&types.MarketData{Symbol: "BTCUSDT", LastPrice: 100, Volume: 10, ExchangeTime: int64(i)})
	}

	if len(sink.orders) != 0 {
		t.Fatalf("flat market emitted %d orders, want 0", len(sink.orders))
	}
}
