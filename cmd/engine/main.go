// Command engine is the trading core's driver binary.
//
// Architecture:
//
//	main.go                  — entry point: loads config, builds strategies, runs live or backtest mode
//	internal/engine          — live strategy engine (C6): bus poll loop, dispatch, teardown
//	internal/backtest        — historical data source, simulated gateway, backtest engine, analyzer (C7-C10)
//	internal/strategy        — strategy runtime and reference strategies (C5, C12)
//	internal/ledger          — portfolio average-cost ledger (C3)
//	internal/risk            — pre-trade risk gate (C4)
//	internal/bus             — message bus endpoints (C2)
//	internal/codec           — wire codec (C1)
//	internal/observability   — metrics registry and HTTP endpoint (C11)
//	internal/store           — position snapshot sidecar (§4.14)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nullma/ttquant/internal/backtest"
	"github.com/nullma/ttquant/internal/config"
	"github.com/nullma/ttquant/internal/engine"
	"github.com/nullma/ttquant/internal/observability"
	"github.com/nullma/ttquant/internal/risk"
	"github.com/nullma/ttquant/internal/store"
	"github.com/nullma/ttquant/internal/strategy"
	"github.com/nullma/ttquant/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "configs/config.toml", "path to the TOML configuration file")
		mode       = flag.String("mode", "", "override global.trading_mode: live or backtest")
		from       = flag.String("from", "", "backtest window start, ISO date (backtest mode only)")
		to         = flag.String("to", "", "backtest window end, ISO date (backtest mode only)")
		symbols    = flag.String("symbols", "", "comma-separated symbol filter override")
		csvDir     = flag.String("export-csv-dir", "", "directory to export each strategy's trade tape to as CSV (backtest mode only)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		return 1
	}
	if *mode != "" {
		cfg.Global.TradingMode = *mode
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Global.LogLevel)}))

	var symbolFilter []string
	if *symbols != "" {
		symbolFilter = strings.Split(*symbols, ",")
	}

	obs := observability.New()
	if cfg.Observability.Port != 0 {
		if err := obs.Init(cfg.Observability.Port); err != nil {
			logger.Error("failed to start observability endpoint", "error", err)
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(ctx)
		}()
	}

	switch cfg.Global.TradingMode {
	case "live":
		return runLive(cfg, logger, obs)
	case "backtest":
		return runBacktest(cfg, logger, obs, *from, *to, symbolFilter, *csvDir)
	default:
		logger.Error("unknown trading mode", "mode", cfg.Global.TradingMode)
		return 1
	}
}

func runLive(cfg *config.Config, logger *slog.Logger, obs *observability.Registry) int {
	eng, err := engine.New(engine.Config{
		NATSURLs:      cfg.Bus.NATSURLs,
		MDTopics:      cfg.Bus.MDEndpoints,
		TradeTopic:    cfg.Bus.TradeEndpoint,
		OrderSubject:  cfg.Bus.OrderEndpoint,
		PushHighWater: 1024,
	}, obs, logger)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		return 1
	}

	riskCfg := riskConfigFrom(cfg.RiskMgmt)
	registered := 0
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		s, err := buildStrategy(sc, logger)
		if err != nil {
			logger.Error("failed to build strategy", "name", sc.Name, "error", err)
			return 1
		}
		var gate *risk.Gate
		if cfg.RiskMgmt.Enabled {
			gate = risk.NewGate(riskCfg, cfg.RiskMgmt.InitialCapital, logger)
		}
		eng.Register(s, gate)
		registered++
	}
	obs.SetActiveStrategies(registered)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Snapshot.Dir != "" {
		snapStore, err := store.Open(cfg.Snapshot.Dir)
		if err != nil {
			logger.Error("failed to open snapshot store", "error", err)
			return 1
		}
		defer snapStore.Close()
		go runSnapshotLoop(ctx, eng, snapStore, time.Duration(cfg.Snapshot.IntervalSeconds)*time.Second, logger)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		eng.Stop()
		<-errCh
		return 130
	case err := <-errCh:
		eng.Stop()
		if err != nil {
			logger.Error("engine run failed", "error", err)
			return 2
		}
		return 0
	}
}

// runSnapshotLoop periodically persists every registered strategy's
// portfolio until ctx is cancelled, saving once more on the way out so the
// last snapshot reflects state as close to shutdown as possible.
func runSnapshotLoop(ctx context.Context, eng *engine.Engine, st *store.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			eng.SaveSnapshots(st)
			return
		case <-ticker.C:
			eng.SaveSnapshots(st)
		}
	}
}

func runBacktest(cfg *config.Config, logger *slog.Logger, obs *observability.Registry, from, to string, symbolFilter []string, csvDir string) int {
	ctx := context.Background()

	start, err := parseISODate(from)
	if err != nil {
		logger.Error("invalid --from date", "error", err)
		return 1
	}
	end, err := parseISODate(to)
	if err != nil {
		logger.Error("invalid --to date", "error", err)
		return 1
	}

	symbols := symbolFilter
	if len(symbols) == 0 {
		for _, sc := range cfg.Strategies {
			symbols = append(symbols, sc.Symbol)
		}
	}

	source, err := backtest.NewDataSource(ctx, cfg.Backtest.DBDSN, symbols, cfg.Backtest.Venue, start, end, cfg.Backtest.Preload)
	if err != nil {
		logger.Error("failed to open backtest data source", "error", err)
		return 1
	}
	defer source.Close()

	recordInterval := cfg.Backtest.RecordEquityInterval
	if recordInterval <= 0 {
		recordInterval = 100
	}

	eng := backtest.New(source, backtest.GatewayConfig{
		SlippageModel: backtest.SlippageModel(cfg.Backtest.SlippageModel),
		SlippageValue: cfg.Backtest.SlippageValue,
		TakerFee:      cfg.Backtest.TakerFee,
		MinCommission: cfg.Backtest.MinCommission,
		RejectRate:    cfg.Backtest.RejectRate,
		Seed:          cfg.Backtest.Seed,
	}, cfg.RiskMgmt.InitialCapital, recordInterval, obs, logger)

	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		s, err := buildStrategy(sc, logger)
		if err != nil {
			logger.Error("failed to build strategy", "name", sc.Name, "error", err)
			return 1
		}
		eng.Register(s)
	}

	reports, err := eng.Run(ctx)
	if err != nil {
		logger.Error("backtest run failed", "error", err)
		return 2
	}

	for id, report := range reports {
		logger.Info("backtest report",
			"strategy", id,
			"total_return", report.TotalReturn,
			"sharpe", report.SharpeRatio,
			"max_drawdown", report.MaxDrawdown,
			"total_trades", report.TotalTrades,
			"win_rate", report.WinRate,
		)
		if csvDir != "" {
			if err := exportTradesCSV(eng, id, csvDir); err != nil {
				logger.Error("failed to export trade tape", "strategy", id, "error", err)
			}
		}
	}
	return 0
}

func exportTradesCSV(eng *backtest.Engine, strategyID, dir string) error {
	path := filepath.Join(dir, strategyID+"_trades.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	defer f.Close()
	return eng.ExportTradesCSV(strategyID, f)
}

func buildStrategy(sc config.StrategyConfig, logger *slog.Logger) (strategy.Strategy, error) {
	p := sc.Parameters
	switch sc.Type {
	case "ema_cross":
		return strategy.NewEMACross(
			sc.Name, sc.Symbol,
			paramInt(p, "fast_period", 12),
			paramInt(p, "slow_period", 26),
			int64(paramInt(p, "order_volume", 1)),
			logger,
		), nil
	case "grid":
		return strategy.NewGrid(
			sc.Name, sc.Symbol,
			paramFloat(p, "price_range_pct", 0.04),
			paramInt(p, "grid_count", 10),
			int64(paramInt(p, "rung_volume", 1)),
			paramFloat(p, "stop_loss_pct", 0.05),
			paramFloat(p, "take_profit_pct", 0.10),
			logger,
		), nil
	case "momentum":
		return strategy.NewMomentum(
			sc.Name, sc.Symbol,
			paramInt(p, "lookback", 20),
			paramFloat(p, "breakout_threshold", 2.0),
			paramFloat(p, "volume_threshold", 1.5),
			int64(paramInt(p, "order_volume", 1)),
			logger,
		), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", sc.Type)
	}
}

func riskConfigFrom(r config.RiskMgmtConfig) types.RiskConfig {
	return types.RiskConfig{
		StopLossPct:         r.StopLossPct,
		TakeProfitPct:       r.TakeProfitPct,
		MaxPositionPct:      r.MaxPositionPct,
		MaxTotalPositionPct: r.MaxTotalPositionPct,
		DailyLossLimit:      r.DailyLossLimit,
		MaxPositions:        r.MaxPositions,
		Enabled:             r.Enabled,
	}
}

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func paramInt(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

func parseISODate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
