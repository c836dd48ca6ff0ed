// Package app builds and runs the engine from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quanta/internal/analytics"
	"quanta/internal/archive"
	"quanta/internal/config"
	"quanta/internal/datasource"
	"quanta/internal/event"
	"quanta/internal/journal"
	"quanta/internal/logger"
	"quanta/internal/market"
	"quanta/internal/portfolio"
	"quanta/internal/risk"
	adminhttp "quanta/internal/transport/http/admin"
)

// App owns the wired components and their shutdown order.
type App struct {
	cfg     *config.Config
	cfgPath string

	bus     *event.Bus
	series  *market.Series
	manager *portfolio.Manager
	archive *archive.Store
	journal *journal.Store
	httpSrv *adminhttp.Server
}

// New wires the engine from config. Nothing is started yet.
func New(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{
		cfg:     cfg,
		cfgPath: cfgPath,
		bus:     event.NewBus(cfg.Bus.Lanes, cfg.Bus.Buffer),
		series:  market.NewSeries(cfg.Market.MaxCandles),
	}

	var source datasource.Datasource
	if cfg.Binance.APIKey != "" && cfg.Binance.APISecret != "" {
		source = datasource.NewBinance(cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.Asset)
		logger.Infof("datasource: binance (%s)", cfg.Binance.Asset)
	} else {
		source = datasource.NewStatic(decimal.NewFromInt(10_000), datasource.Fees{
			Fee:            decimal.NewFromFloat(0.001),
			MinSize:        decimal.NewFromFloat(0.0001),
			SizePrecision:  4,
			PricePrecision: 2,
		})
		logger.Warnf("datasource: no exchange credentials, using static defaults")
	}

	opts := portfolio.Options{
		Leverage:        cfg.Portfolio.Leverage,
		RiskPerTrade:    cfg.Portfolio.RiskPerTrade,
		ProfitThreshold: cfg.Portfolio.ProfitThreshold,
	}
	if cfg.Archive.Path != "" {
		ar, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("opening archive failed: %w", err)
		}
		a.archive = ar
		opts.Archive = ar
	}
	if cfg.Journal.Path != "" {
		jr, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("opening journal failed: %w", err)
		}
		a.journal = jr
		opts.Journal = jr
	}

	a.manager = portfolio.NewManager(a.bus, source, analytics.NewBasicCalculator(), portfolio.NewStore(), opts)
	a.wireSubscriptions()

	if cfg.HTTP.Enabled {
		a.httpSrv = adminhttp.New(a.manager, a.journal, cfg.HTTP.Addr)
	}
	return a, nil
}

// wireSubscriptions connects inbound event kinds to the manager. The candle
// series subscriber is registered first so risk consumers always see the
// newest bar before any lifecycle handling of the same event.
func (a *App) wireSubscriptions() {
	a.bus.Subscribe(event.KindMarketUpdate, func(_ context.Context, ev event.Event) error {
		if x, ok := ev.(event.MarketUpdate); ok {
			a.series.Append(x.Symbol, x.Timeframe, x.Candle)
		}
		return nil
	})

	for _, kind := range []event.Kind{
		event.KindOpenLong,
		event.KindOpenShort,
		event.KindOrderFilled,
		event.KindMarketUpdate,
		event.KindExitLong,
		event.KindExitShort,
		event.KindRiskExit,
		event.KindPositionClosed,
	} {
		a.bus.Subscribe(kind, a.manager.HandleEvent)
	}
}

// Bus exposes the event bus so adjacent modules (strategies, broker
// adapters, risk evaluators) can publish and subscribe.
func (a *App) Bus() *event.Bus { return a.bus }

// Series exposes the candle store for risk components.
func (a *App) Series() *market.Series { return a.series }

// StopLossFinder builds the trailing stop finder risk consumers use for one
// symbol and timeframe, tuned from the trailing config: an ATR base finder
// wrapped in the iterative tightener.
func (a *App) StopLossFinder(symbol string, tf market.Timeframe) risk.StopLossFinder {
	base := risk.NewATRStopLossFinder(a.series, symbol, tf,
		a.cfg.Trailing.ATRPeriod, a.cfg.Trailing.ATRMultiplier)
	return risk.NewTrailingStopLossFinder(base, a.series, symbol, tf,
		a.cfg.Trailing.RiskRewardRatio, a.cfg.Trailing.MaxAdjustments)
}

// Run starts the engine and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.bus.Start(ctx)
	if a.httpSrv != nil {
		a.httpSrv.Start()
	}
	if a.cfgPath != "" {
		err := config.Watch(ctx, a.cfgPath, func(cfg *config.Config) {
			logger.SetLevel(cfg.App.LogLevel)
			a.manager.SetProfitThreshold(cfg.Portfolio.ProfitThreshold)
		})
		if err != nil {
			logger.Warnf("config watch disabled: %v", err)
		}
	}
	logger.Infof("engine running (env=%s)", a.cfg.App.Env)

	<-ctx.Done()
	return a.shutdown()
}

func (a *App) shutdown() error {
	logger.Infof("engine shutting down")
	if a.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("admin http shutdown: %v", err)
		}
	}
	// Drain in-flight analytics before stopping the lanes so final
	// performance updates still reach bus subscribers.
	if err := a.manager.Close(); err != nil {
		logger.Warnf("manager close: %v", err)
	}
	a.bus.Close()
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			logger.Warnf("archive close: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("journal close: %v", err)
		}
	}
	return nil
}
