package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// fileConfig mirrors the flags; nil fields were absent from the file.
type fileConfig struct {
	Mode              *string  `json:"mode"`
	Symbols           []string `json:"symbols"`
	Feed              *string  `json:"feed"`
	Strategy          *string  `json:"strategy"`
	StrategyID        []string `json:"strategyId"`
	BaseCurrency      *string  `json:"baseCurrency"`
	BaseUnits         *float64 `json:"baseUnits"`
	ClassifierID      *string  `json:"classifierId"`
	Classifier        *string  `json:"classifier"`
	OllamaURL         *string  `json:"ollamaUrl"`
	OllamaModel       *string  `json:"ollamaModel"`
	ModelPath         *string  `json:"modelPath"`
	ONNXLib           *string  `json:"onnxLib"`
	Store             *string  `json:"store"`
	StorePath         *string  `json:"storePath"`
	BarsWindow        *int     `json:"barsWindow"`
	Warmup            *bool    `json:"warmup"`
	MaxQty            *int     `json:"maxQty"`
	MaxNotional       *float64 `json:"maxNotional"`
	Cooldown          *string  `json:"cooldown"`
	ReconcileInterval *string  `json:"reconcileInterval"`
	KillSwitch        *bool    `json:"killSwitch"`
	TimeInForce       *string  `json:"timeInForce"`
	DecisionsPath     *string  `json:"decisionsPath"`
	PaperBaseURL      *string  `json:"paperBaseUrl"`
	LogLevel          *string  `json:"logLevel"`
	APIKey            *string  `json:"apiKey"`
	APISecret         *string  `json:"apiSecret"`
}

func readConfigFile(path string) (fileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fileConfig{}, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var fc fileConfig
	if err := v.Unmarshal(&fc, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
		dc.WeaklyTypedInput = true
		dc.ErrorUnused = true
	}); err != nil {
		return fileConfig{}, fmt.Errorf("parsing config failed (%s): %w", path, err)
	}
	return fc, nil
}

// applyConfigFile sets every flag the file names unless the command line
// already set it.
func applyConfigFile(fs *flag.FlagSet, path string, explicit map[string]bool, cfg *Config) error {
	fc, err := readConfigFile(path)
	if err != nil {
		return err
	}
	set := func(name string, value any) error {
		if explicit[name] {
			return nil
		}
		if err := fs.Set(name, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
		return nil
	}

	var errs []error
	collect := func(err error) { errs = append(errs, err) }
	collect(setOpt(set, "mode", fc.Mode))
	if len(fc.Symbols) > 0 {
		collect(set("symbols", strings.Join(fc.Symbols, ",")))
	}
	if len(fc.StrategyID) > 0 {
		collect(set("strategy-id", strings.Join(fc.StrategyID, ",")))
	}
	collect(setOpt(set, "feed", fc.Feed))
	collect(setOpt(set, "strategy", fc.Strategy))
	collect(setOpt(set, "base-currency", fc.BaseCurrency))
	collect(setOpt(set, "base-units", fc.BaseUnits))
	collect(setOpt(set, "classifier-id", fc.ClassifierID))
	collect(setOpt(set, "classifier", fc.Classifier))
	collect(setOpt(set, "ollama-url", fc.OllamaURL))
	collect(setOpt(set, "ollama-model", fc.OllamaModel))
	collect(setOpt(set, "model-path", fc.ModelPath))
	collect(setOpt(set, "onnx-lib", fc.ONNXLib))
	collect(setOpt(set, "store", fc.Store))
	collect(setOpt(set, "store-path", fc.StorePath))
	collect(setOpt(set, "bars-window", fc.BarsWindow))
	collect(setOpt(set, "warmup", fc.Warmup))
	collect(setOpt(set, "max-qty", fc.MaxQty))
	collect(setOpt(set, "max-notional", fc.MaxNotional))
	collect(setOpt(set, "cooldown", fc.Cooldown))
	collect(setOpt(set, "reconcile-interval", fc.ReconcileInterval))
	collect(setOpt(set, "kill-switch", fc.KillSwitch))
	collect(setOpt(set, "time-in-force", fc.TimeInForce))
	collect(setOpt(set, "decisions-path", fc.DecisionsPath))
	collect(setOpt(set, "paper-base-url", fc.PaperBaseURL))
	collect(setOpt(set, "log-level", fc.LogLevel))
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if fc.APIKey != nil {
		cfg.APIKey = *fc.APIKey
	}
	if fc.APISecret != nil {
		cfg.APISecret = *fc.APISecret
	}
	return nil
}

func setOpt[T any](set func(string, any) error, name string, value *T) error {
	if value == nil {
		return nil
	}
	return set(name, *value)
}
