package codec

import (
	"errors"
	"testing"

	"github.com/nullma/ttquant/internal/errs"
	"github.com/nullma/ttquant/pkg/types"
)

func TestOrderRoundTrip(t *testing.T) {
	t.Parallel()

	o := types.Order{
		ID:        "ORDER_123",
		Strategy:  "s",
		Symbol:    "BTCUSDT",
		Price:     50000.0,
		Volume:    1,
		Side:      types.BUY,
		Timestamp: 1234567890000000000,
	}

	got, err := DecodeOrder(EncodeOrder(o))
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if got != o {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, o)
	}
}

func TestOrderRoundTripZeroFields(t *testing.T) {
	t.Parallel()

	// Zero-valued fields are omitted on encode; decode must still produce
	// the zero value, not leave a stale field from a prior decode.
	o := types.Order{ID: "x"}
	got, err := DecodeOrder(EncodeOrder(o))
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if got != o {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, o)
	}
}

func TestTradeRoundTrip(t *testing.T) {
	t.Parallel()

	tr := types.Trade{
		TradeID:      "T1",
		OrderID:      "O1",
		StrategyID:   "ema",
		Symbol:       "ETHUSDT",
		Side:         types.SELL,
		FilledPrice:  2500.5,
		FilledVolume: 3,
		TradeTime:    1700000000000000000,
		Status:       types.StatusFilled,
		ErrorCode:    0,
		ErrorMessage: "",
		IsRetryable:  false,
		Commission:   1.25,
	}

	got, err := DecodeTrade(EncodeTrade(tr))
	if err != nil {
		t.Fatalf("DecodeTrade: %v", err)
	}
	if got != tr {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, tr)
	}
}

func TestTradeRejectedRoundTrip(t *testing.T) {
	t.Parallel()

	tr := types.Trade{
		TradeID:      "T2",
		OrderID:      "O2",
		Status:       types.StatusRejected,
		ErrorCode:    1001,
		ErrorMessage: "Simulated rejection",
		IsRetryable:  true,
	}

	got, err := DecodeTrade(EncodeTrade(tr))
	if err != nil {
		t.Fatalf("DecodeTrade: %v", err)
	}
	if got != tr {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, tr)
	}
}

func TestMarketDataRoundTrip(t *testing.T) {
	t.Parallel()

	md := types.MarketData{
		Symbol:       "BTCUSDT",
		LastPrice:    50123.45,
		Volume:       0.5,
		ExchangeTime: 1700000000000000000,
		LocalTime:    1700000000010000000,
		Exchange:     "binance",
	}

	got, err := DecodeMarketData(EncodeMarketData(md))
	if err != nil {
		t.Fatalf("DecodeMarketData: %v", err)
	}
	if got != md {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, md)
	}
}

func TestDecodeSkipsUnknownField(t *testing.T) {
	t.Parallel()

	buf := EncodeMarketData(types.MarketData{Symbol: "X", LastPrice: 1})
	// Append an unknown field (number 31, varint wire type) before a known
	// trailing field; the decoder must skip it and still read Exchange.
	buf = append(buf, tag(31, wireVarint))
	buf = appendVarint(buf, 7)
	buf = appendString(buf, 6, "binance")

	got, err := DecodeMarketData(buf)
	if err != nil {
		t.Fatalf("DecodeMarketData: %v", err)
	}
	if got.Exchange != "binance" {
		t.Errorf("Exchange = %q, want %q", got.Exchange, "binance")
	}
}

func TestDecodeMalformedUnknownWireType(t *testing.T) {
	t.Parallel()

	buf := []byte{tag(1, 5)} // wire type 5 does not exist
	_, err := DecodeMarketData(buf)
	if !errors.Is(err, errs.ErrDecodeMalformed) {
		t.Fatalf("err = %v, want ErrDecodeMalformed", err)
	}
}

func TestDecodeMalformedTruncatedLength(t *testing.T) {
	t.Parallel()

	buf := appendString(nil, 1, "hello")
	buf = buf[:len(buf)-2] // chop off part of the string payload

	_, err := DecodeMarketData(buf)
	if !errors.Is(err, errs.ErrDecodeMalformed) {
		t.Fatalf("err = %v, want ErrDecodeMalformed", err)
	}
}

func TestDecodeMalformedTruncatedVarint(t *testing.T) {
	t.Parallel()

	buf := []byte{tag(5, wireVarint), 0x80, 0x80} // continuation bit set, buffer ends mid-varint
	_, err := DecodeMarketData(buf)
	if !errors.Is(err, errs.ErrDecodeMalformed) {
		t.Fatalf("err = %v, want ErrDecodeMalformed", err)
	}
}
