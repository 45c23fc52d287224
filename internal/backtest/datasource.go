// Package backtest implements the historical data source (C7), the
// simulated order gateway (C8), the backtest engine (C9), and the
// performance analyzer (C10) that together drive an offline strategy replay.
package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/nullma/ttquant/pkg/types"
)

const tickQuery = `
SELECT time, symbol, exchange, last_price, volume, exchange_time_ns, local_time_ns
FROM market_data
WHERE symbol = ANY($1) AND exchange = $2 AND time BETWEEN $3 AND $4
ORDER BY time ASC, symbol ASC
`

// tickRow is the struct-scanning target for one result row.
type tickRow struct {
	Time           time.Time       `db:"time"`
	Symbol         string          `db:"symbol"`
	Exchange       string          `db:"exchange"`
	LastPrice      sql.NullFloat64 `db:"last_price"`
	Volume         sql.NullFloat64 `db:"volume"`
	ExchangeTimeNs int64           `db:"exchange_time_ns"`
	LocalTimeNs    int64           `db:"local_time_ns"`
}

// DataSource is a pull-iterator over a time-ordered tick stream across one
// or more symbols, queried from a Postgres/Timescale-shaped store.
//
// In streaming mode it holds a live *sql.Rows cursor and scans one row at a
// time; in preload mode the entire sanitized, sorted result is materialized
// up front and Next walks an in-memory slice instead.
type DataSource struct {
	db   *sqlx.DB
	rows *sqlx.Rows

	preload    []types.MarketData
	preloadIdx int
	preloadOn  bool

	lastKey string // "<unixnano>|<symbol>" of the last row yielded, for adjacent-dedup
}

// NewDataSource opens dsn, runs the historical query for symbols×venue×
// [start, end], and returns a ready-to-iterate source. If preload is true
// the full result is read into memory immediately and the database
// connection is closed before returning.
func NewDataSource(ctx context.Context, dsn string, symbols []string, venue string, start, end time.Time, preload bool) (*DataSource, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("backtest: connect data source: %w", err)
	}

	rows, err := db.QueryxContext(ctx, tickQuery, symbols, venue, start, end)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("backtest: query historical ticks: %w", err)
	}

	ds := &DataSource{db: db, rows: rows}
	if !preload {
		return ds, nil
	}

	defer ds.Close()
	ds.preloadOn = true
	for {
		md, ok, err := ds.nextFromRows(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ds.preload = append(ds.preload, *md)
	}
	return ds, nil
}

// Next yields the next sanitized tick, or ok=false once the stream is
// exhausted. An empty result set is not an error: the very first call
// returns ok=false.
func (ds *DataSource) Next(ctx context.Context) (*types.MarketData, bool, error) {
	if ds.preloadOn {
		if ds.preloadIdx >= len(ds.preload) {
			return nil, false, nil
		}
		md := ds.preload[ds.preloadIdx]
		ds.preloadIdx++
		return &md, true, nil
	}
	return ds.nextFromRows(ctx)
}

// nextFromRows scans forward until it finds a row passing the sanitize
// filter (non-null price/volume, price > 0, volume >= 0) that isn't a
// duplicate of the immediately preceding (timestamp, symbol) pair, or the
// cursor is exhausted.
func (ds *DataSource) nextFromRows(ctx context.Context) (*types.MarketData, bool, error) {
	for ds.rows.Next() {
		var r tickRow
		if err := ds.rows.StructScan(&r); err != nil {
			return nil, false, fmt.Errorf("backtest: scan tick row: %w", err)
		}

		if !r.LastPrice.Valid || !r.Volume.Valid {
			continue
		}
		if r.LastPrice.Float64 <= 0 || r.Volume.Float64 < 0 {
			continue
		}

		key := fmt.Sprintf("%d|%s", r.Time.UnixNano(), r.Symbol)
		if key == ds.lastKey {
			continue
		}
		ds.lastKey = key

		return &types.MarketData{
			Symbol:       r.Symbol,
			LastPrice:    r.LastPrice.Float64,
			Volume:       r.Volume.Float64,
			ExchangeTime: r.ExchangeTimeNs,
			LocalTime:    r.LocalTimeNs,
			Exchange:     r.Exchange,
		}, true, nil
	}
	if err := ds.rows.Err(); err != nil {
		return nil, false, fmt.Errorf("backtest: iterate tick rows: %w", err)
	}
	return nil, false, nil
}

// Close releases the underlying cursor and database connection. Safe to
// call after preload (a no-op in that case, since preload already closed).
func (ds *DataSource) Close() error {
	if ds.rows != nil {
		ds.rows.Close()
	}
	if ds.db != nil {
		return ds.db.Close()
	}
	return nil
}
