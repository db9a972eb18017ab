package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const EnvPrefix = "TOKBOT_"

// envOverrides are the settings operators usually inject through the environment.
// Unset variables leave the file value untouched.
type envOverrides struct {
	BotToken      string  `env:"BOT_TOKEN"`
	AdminIDs      []int64 `env:"ADMIN_IDS" envSeparator:","`
	LogLevel      string  `env:"LOG_LEVEL"`
	DirectoryPath string  `env:"DIRECTORY_PATH"`
	RedisAddr     string  `env:"REDIS_ADDR"`
}

// loadDotEnv loads .env files from the working directory and next to the config file.
// Variables already present in the process environment win.
func loadDotEnv(configPath string) error {
	for _, p := range dotEnvCandidates(configPath) {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func dotEnvCandidates(configPath string) []string {
	out := []string{".env"}
	if configPath == "" {
		return out
	}
	if p := filepath.Join(filepath.Dir(configPath), ".env"); filepath.Clean(p) != ".env" {
		out = append(out, p)
	}
	return out
}

// applyEnv overlays TOKBOT_* variables on cfg. environ, when non-nil, replaces the
// process environment (tests).
func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	if o.BotToken != "" {
		cfg.Telegram.Token = o.BotToken
	}
	if len(o.AdminIDs) > 0 {
		cfg.Telegram.AdminIDs = o.AdminIDs
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.DirectoryPath != "" {
		cfg.Directory.Path = o.DirectoryPath
	}
	if o.RedisAddr != "" {
		cfg.Session.RedisAddr = o.RedisAddr
	}
	return nil
}
