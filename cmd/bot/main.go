package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trader/internal/broker"
	"trader/internal/classifier"
	"trader/internal/config"
	"trader/internal/engine"
	"trader/internal/md"
	"trader/internal/portfolio"
	"trader/internal/risk"
	"trader/internal/store"
	"trader/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bot stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	runID := generateRunID()
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID)
	if err != nil {
		return fmt.Errorf("decision logger error: %w", err)
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			slog.Error("failed to close decision logger", "error", err)
		}
	}()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	backends := &classifiers{cfg: cfg, logger: logger}
	defer backends.Close()
	deps := strategy.Deps{
		NewClassifier: backends.New,
		Logger:        logger,
		Now:           func() time.Time { return time.Now().UTC() },
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerClient := broker.New(cfg.APIKey, cfg.APISecret, cfg.PaperBaseURL)
	var orders engine.Broker
	if cfg.Mode == config.ModePaper {
		orders = brokerClient
	}

	var history *md.History
	if cfg.Warmup && cfg.APIKey != "" {
		history = md.NewHistory(cfg.APIKey, cfg.APISecret)
	}

	engines := make([]*engine.Engine, 0, len(cfg.Symbols))
	for i, symbol := range cfg.Symbols {
		s, err := loadOrCreate(ctx, cfg, st, deps, cfg.StrategyID(i), symbol)
		if err != nil {
			return err
		}
		e := engine.New(cfg, symbol, engine.NewPipeline(s, logger), risk.Gate{}, orders, st, decisions)
		if err := e.Checkpoint(ctx); err != nil {
			return err
		}
		if history != nil {
			warmup(ctx, history, cfg, e)
		}
		if cfg.Mode == config.ModePaper {
			if _, err := e.Audit(ctx, brokerClient); err != nil {
				slog.Warn("broker audit failed", "symbol", symbol, "error", err)
			}
		}
		engines = append(engines, e)
		slog.Info("engine ready", "symbol", symbol, "strategy", s.Name(), "strategy_id", s.ID())
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Mode == config.ModePaper {
		g.Go(func() error {
			engine.ReconcileLoop(gctx, engines, brokerClient, cfg.ReconcileInterval)
			return nil
		})
	}
	for _, e := range engines {
		e := e
		g.Go(func() error {
			return md.StartStream(gctx, cfg.APIKey, cfg.APISecret, cfg.Feed, e.Symbol(), func(bar md.Bar) {
				e.OnBar(gctx, bar)
			})
		})
	}

	slog.Info("starting bot", "mode", cfg.Mode, "symbols", cfg.Symbols, "feed", cfg.Feed, "run_id", runID)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("market data stream stopped", "error", err)
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, e := range engines {
		if err := e.Checkpoint(saveCtx); err != nil {
			slog.Error("failed to save checkpoint", "symbol", e.Symbol(), "error", err)
		}
	}

	slog.Info("bot shutdown complete")
	return nil
}

func loadOrCreate(ctx context.Context, cfg config.Config, st store.Store, deps strategy.Deps, id, symbol string) (strategy.Strategy, error) {
	if id != "" {
		s, err := strategy.Load(ctx, st, id, deps)
		if err != nil {
			return nil, fmt.Errorf("load strategy %s: %w", id, err)
		}
		if s.Instrument() != symbol {
			return nil, fmt.Errorf("%w: strategy %s trades %s, not %s", store.ErrConfiguration, id, s.Instrument(), symbol)
		}
		slog.Info("loaded strategy", "strategy_id", id, "profit", s.Portfolio().Profit().String())
		return s, nil
	}
	base := decimal.NewFromFloat(cfg.BaseUnits)
	return strategy.New(cfg.Strategy, deps, strategy.Params{
		Instrument: symbol,
		BasePair: portfolio.Pair{
			Currency:       cfg.BaseCurrency,
			StartingUnits:  base,
			TradeableUnits: base,
			Units:          base,
		},
		QuotePair: portfolio.Pair{Currency: symbol},
		Classifier: store.ClassifierConfig{
			ID:        cfg.ClassifierID,
			ModelPath: cfg.ModelPath,
		},
	})
}

func openStore(cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		st, err := store.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, func() {
			if err := st.Close(); err != nil {
				slog.Error("failed to close store", "error", err)
			}
		}, nil
	default:
		st, err := store.NewFileStore(cfg.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return st, func() {}, nil
	}
}

func warmup(ctx context.Context, history *md.History, cfg config.Config, e *engine.Engine) {
	sc := e.Strategy().Config()
	bars, err := history.Bars(ctx, md.HistoryRequest{
		Symbol:      e.Symbol(),
		Feed:        cfg.Feed,
		Granularity: sc.Granularity,
		Count:       max(cfg.BarsWindow, sc.DataWindow),
	})
	if err != nil {
		slog.Warn("warmup skipped", "symbol", e.Symbol(), "error", err)
		return
	}
	e.Warmup(bars)
}

// classifiers builds the configured backend per strategy and closes ONNX
// sessions on exit.
type classifiers struct {
	cfg      config.Config
	logger   *slog.Logger
	sessions []*classifier.ONNXClassifier
}

func (c *classifiers) New(rec store.ClassifierConfig, features []string) (classifier.Classifier, error) {
	if c.cfg.Classifier == config.ClassifierOllama {
		remote, err := classifier.NewOllama(classifier.OllamaConfig{
			ID:       rec.ID,
			BaseURL:  c.cfg.OllamaURL,
			Model:    c.cfg.OllamaModel,
			Features: features,
		}, c.logger)
		if err != nil {
			return nil, err
		}
		return remote, nil
	}
	if err := classifier.InitializeRuntime(c.cfg.ONNXLibPath); err != nil {
		return nil, fmt.Errorf("%w: onnxruntime: %v", classifier.ErrUnavailable, err)
	}
	modelPath := rec.ModelPath
	if modelPath == "" {
		modelPath = c.cfg.ModelPath
	}
	session, err := classifier.NewONNX(classifier.ONNXConfig{
		ID:        rec.ID,
		ModelPath: modelPath,
		Features:  features,
	}, c.logger)
	if err != nil {
		return nil, err
	}
	c.sessions = append(c.sessions, session)
	return session, nil
}

func (c *classifiers) Close() {
	for _, session := range c.sessions {
		session.Close()
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func generateRunID() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}
