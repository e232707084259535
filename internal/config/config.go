// Package config loads the vsharefs configuration from file, environment
// and defaults, and validates it before either binary starts.
//
// Sources in order of precedence: environment variables (VSHAREFS_*), the
// configuration file, then defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration for both binaries. The client reads
// the Client section, the host daemon the Host section; Logging and Metrics
// are shared.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Client  ClientConfig  `mapstructure:"client"`
	Host    HostConfig    `mapstructure:"host"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level to emit: debug, info, warn or error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// MetricsConfig controls the Prometheus endpoint. An empty listen address
// disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ClientConfig configures the mount client.
type ClientConfig struct {
	// Host is the address of the share host daemon.
	Host string `mapstructure:"host" validate:"required,hostname_port"`

	// Share is the export name to mount.
	Share string `mapstructure:"share" validate:"required"`

	// Mountpoint is the local directory the share is mounted on.
	Mountpoint string `mapstructure:"mountpoint" validate:"required"`

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`

	// ConnectBudget bounds the total time spent retrying the initial dial.
	ConnectBudget time.Duration `mapstructure:"connect_budget" validate:"gt=0"`

	// AllowOther passes the mount option of the same name to the kernel.
	AllowOther bool `mapstructure:"allow_other"`

	// Debug enables kernel request tracing.
	Debug bool `mapstructure:"debug"`
}

// HostConfig configures the host daemon.
type HostConfig struct {
	// Listen is the address the daemon serves the share protocol on.
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`

	// Shares maps export names to local directories.
	Shares map[string]string `mapstructure:"shares" validate:"required,min=1,dive,required"`
}

// Load reads the configuration. An empty path searches the default
// locations; a missing file is not an error, defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("VSHAREFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(configDir())
		v.AddConfigPath("/etc/vsharefs")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vsharefs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "vsharefs")
}

// Logger builds the process logger described by the Logging section.
func (c *Config) Logger() (*slog.Logger, error) {
	var w io.Writer
	switch c.Logging.Output {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(c.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		w = f
	}

	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
