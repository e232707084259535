// vsharefs-hostd exports local directories as shares over the framed
// share protocol.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/virtshare/vsharefs/internal/config"
	"github.com/virtshare/vsharefs/internal/hostfs"
	"github.com/virtshare/vsharefs/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Config file path (default: search standard locations)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	shareFlag := flag.String("export", "", "Share to export as name=dir (repeatable via comma)")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Host.Listen = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *shareFlag != "" {
		if cfg.Host.Shares == nil {
			cfg.Host.Shares = make(map[string]string)
		}
		for _, pair := range strings.Split(*shareFlag, ",") {
			name, dir, ok := strings.Cut(pair, "=")
			if !ok {
				slog.Error("malformed -export value, want name=dir", "value", pair)
				os.Exit(1)
			}
			cfg.Host.Shares[name] = dir
		}
	}
	if err := config.ValidateHost(cfg); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, err := cfg.Logger()
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	host := hostfs.New(logger)
	for name, dir := range cfg.Host.Shares {
		if _, err := host.AddShare(name, dir); err != nil {
			logger.Error("failed to export share", "share", name, "error", err)
			os.Exit(1)
		}
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Warn("metrics endpoint failed", "error", err)
			}
		}()
		logger.Info("metrics endpoint enabled", "addr", cfg.Metrics.Listen)
	}

	srv := hostfs.NewServer(host, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		srv.Close()
	}()

	if err := srv.ListenAndServe(cfg.Host.Listen); err != nil {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}
	logger.Info("host daemon stopped")
}
