package backtest

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
)

// ExportTradesCSV writes the recorded trade tape as CSV, one row per filled
// trade. Price and notional columns are marshaled through decimal.Decimal at
// this serialization boundary only, per §3.1's decimal-at-the-edges note — the
// analyzer's own arithmetic above stays on float64 throughout.
func (a *Analyzer) ExportTradesCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"trade_id", "order_id", "symbol", "side", "price", "volume", "notional", "commission", "trade_time"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("backtest: write csv header: %w", err)
	}

	for _, t := range a.trades {
		price := decimal.NewFromFloat(t.FilledPrice)
		notional := price.Mul(decimal.NewFromInt(t.FilledVolume))
		commission := decimal.NewFromFloat(t.Commission)

		row := []string{
			t.TradeID,
			t.OrderID,
			t.Symbol,
			string(t.Side),
			price.String(),
			fmt.Sprintf("%d", t.FilledVolume),
			notional.String(),
			commission.String(),
			fmt.Sprintf("%d", t.TradeTime),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("backtest: write csv row for trade %q: %w", t.TradeID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
