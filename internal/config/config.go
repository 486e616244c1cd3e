package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

type Mode string

const (
	ModeStream Mode = "stream"
	ModePaper  Mode = "paper"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

const (
	ClassifierONNX   = "onnx"
	ClassifierOllama = "ollama"
)

type Config struct {
	ConfigPath        string
	Mode              Mode
	Symbols           []string
	Feed              string
	Strategy          string
	StrategyIDs       []string
	BaseCurrency      string
	BaseUnits         float64
	ClassifierID      string
	Classifier        string
	ModelPath         string
	ONNXLibPath       string
	OllamaURL         string
	OllamaModel       string
	StoreDriver       string
	StorePath         string
	BarsWindow        int
	Warmup            bool
	MaxQty            int
	MaxNotional       float64
	Cooldown          time.Duration
	ReconcileInterval time.Duration
	KillSwitch        bool
	TimeInForce       string
	DecisionsPath     string
	PaperBaseURL      string
	LogLevel          string
	APIKey            string
	APISecret         string
}

// StrategyID returns the persisted strategy to resume for the i-th symbol,
// or "" to start fresh.
func (c Config) StrategyID(i int) string {
	if i < len(c.StrategyIDs) {
		return c.StrategyIDs[i]
	}
	return ""
}

// Load reads flags, then an optional config file and the environment.
// Precedence: defaults < config file < env < explicit flags.
func Load() (Config, error) {
	var cfg Config
	var mode string
	var symbols string
	var strategyIDs string

	loadDotEnvIfPresent(".env")

	fs := flag.CommandLine
	fs.StringVar(&cfg.ConfigPath, "config", "", "optional config file (json, yaml or toml)")
	fs.StringVar(&mode, "mode", string(ModeStream), "run mode: stream or paper")
	fs.StringVar(&symbols, "symbols", "", "comma separated trading symbols, one engine each")
	fs.StringVar(&cfg.Feed, "feed", "", "market data feed: iex, sip or test")
	fs.StringVar(&cfg.Strategy, "strategy", "RandomStumps", "strategy: RandomStumps or PatternMatch")
	fs.StringVar(&strategyIDs, "strategy-id", "", "comma separated strategy ids to resume, matched to symbols by position")
	fs.StringVar(&cfg.BaseCurrency, "base-currency", "USD", "currency the strategy trades with")
	fs.Float64Var(&cfg.BaseUnits, "base-units", 1000, "starting base capital per strategy")
	fs.StringVar(&cfg.ClassifierID, "classifier-id", "default", "classifier identifier recorded with the strategy")
	fs.StringVar(&cfg.Classifier, "classifier", ClassifierONNX, "classifier backend: onnx or ollama")
	fs.StringVar(&cfg.ModelPath, "model-path", "model.onnx", "path to the ONNX classifier model")
	fs.StringVar(&cfg.ONNXLibPath, "onnx-lib", "", "path to the onnxruntime shared library")
	fs.StringVar(&cfg.OllamaURL, "ollama-url", "http://localhost:11434", "Ollama server for the ollama classifier")
	fs.StringVar(&cfg.OllamaModel, "ollama-model", "", "Ollama model for the ollama classifier")
	fs.StringVar(&cfg.StoreDriver, "store", StoreFile, "strategy store: file or sqlite")
	fs.StringVar(&cfg.StorePath, "store-path", "strategies", "store directory (file) or database path (sqlite)")
	fs.IntVar(&cfg.BarsWindow, "bars-window", 100, "number of bars in rolling window")
	fs.BoolVar(&cfg.Warmup, "warmup", true, "load historical bars before streaming")
	fs.IntVar(&cfg.MaxQty, "max-qty", 1000, "max position size")
	fs.Float64Var(&cfg.MaxNotional, "max-notional", 2000, "max notional per order")
	fs.DurationVar(&cfg.Cooldown, "cooldown", 120*time.Second, "cooldown between trades")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", 10*time.Second, "reconciliation interval")
	fs.BoolVar(&cfg.KillSwitch, "kill-switch", false, "if true, never place orders")
	fs.StringVar(&cfg.TimeInForce, "time-in-force", "day", "time in force: day or gtc")
	fs.StringVar(&cfg.DecisionsPath, "decisions-path", "decisions.ndjson", "path to decisions log")
	fs.StringVar(&cfg.PaperBaseURL, "paper-base-url", "https://paper-api.alpaca.markets", "paper trading base URL")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn or error")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return cfg, err
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if cfg.ConfigPath != "" {
		if err := applyConfigFile(fs, cfg.ConfigPath, explicit, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.APISecret = v
	}
	if v := os.Getenv("STRATEGY_ID"); v != "" && !explicit["strategy-id"] {
		strategyIDs = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" && !explicit["log-level"] {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" && !explicit["ollama-model"] {
		cfg.OllamaModel = v
	}

	cfg.Mode = Mode(mode)
	cfg.Symbols = splitList(symbols)
	cfg.StrategyIDs = splitList(strategyIDs)

	if cfg.Mode == ModeStream {
		if len(cfg.Symbols) == 0 {
			cfg.Symbols = []string{"FAKEPACA"}
		}
		if cfg.Feed == "" {
			cfg.Feed = "test"
		}
	}
	if cfg.Mode == ModePaper {
		if len(cfg.Symbols) == 0 {
			cfg.Symbols = []string{"AAPL"}
		}
		if cfg.Feed == "" {
			cfg.Feed = "iex"
		}
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Mode != ModeStream && cfg.Mode != ModePaper {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		if cfg.Mode == ModePaper {
			return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required in paper mode")
		}
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if len(cfg.StrategyIDs) > len(cfg.Symbols) {
		return fmt.Errorf("strategy-id lists %d ids for %d symbols", len(cfg.StrategyIDs), len(cfg.Symbols))
	}
	if cfg.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if cfg.BaseCurrency == "" {
		return fmt.Errorf("base-currency is required")
	}
	if cfg.BaseUnits <= 0 {
		return fmt.Errorf("base-units must be > 0")
	}
	switch cfg.Classifier {
	case ClassifierONNX:
	case ClassifierOllama:
		if cfg.OllamaModel == "" {
			return fmt.Errorf("ollama-model is required for the ollama classifier")
		}
	default:
		return fmt.Errorf("invalid classifier: %s", cfg.Classifier)
	}
	if cfg.StoreDriver != StoreFile && cfg.StoreDriver != StoreSQLite {
		return fmt.Errorf("invalid store: %s", cfg.StoreDriver)
	}
	if cfg.StorePath == "" {
		return fmt.Errorf("store-path is required")
	}
	if cfg.BarsWindow <= 1 {
		return fmt.Errorf("bars-window must be > 1")
	}
	if cfg.MaxQty <= 0 {
		return fmt.Errorf("max-qty must be > 0")
	}
	if cfg.MaxNotional <= 0 {
		return fmt.Errorf("max-notional must be > 0")
	}
	if cfg.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile-interval must be > 0")
	}
	if cfg.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0")
	}
	if cfg.TimeInForce != "day" && cfg.TimeInForce != "gtc" {
		return fmt.Errorf("invalid time-in-force: %s", cfg.TimeInForce)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
