package config

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv sets variables from path without overriding the environment.
func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

func loadDotEnvIfPresent(path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}
	if err := loadDotEnv(path); err != nil {
		slog.Warn("load .env failed", "path", path, "error", err)
	}
}
