package config

import (
	"strings"
	"time"
)

// applyDefaults fills unset fields after the sources are merged. Explicit
// values are preserved.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Client.Host == "" {
		cfg.Client.Host = "localhost:9820"
	}
	if cfg.Client.DialTimeout == 0 {
		cfg.Client.DialTimeout = 5 * time.Second
	}
	if cfg.Client.ConnectBudget == 0 {
		cfg.Client.ConnectBudget = 30 * time.Second
	}

	if cfg.Host.Listen == "" {
		cfg.Host.Listen = "0.0.0.0:9820"
	}
}
