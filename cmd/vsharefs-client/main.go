// vsharefs-client mounts a host-exported share as a local filesystem.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/virtshare/vsharefs/internal/config"
	vsfuse "github.com/virtshare/vsharefs/internal/fuse"
	"github.com/virtshare/vsharefs/internal/gateway"
	"github.com/virtshare/vsharefs/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Config file path (default: search standard locations)")
	hostAddr := flag.String("host", "", "Share host address (overrides config)")
	shareName := flag.String("share", "", "Share name to mount (overrides config)")
	mountpoint := flag.String("mount", "", "Mount point (overrides config)")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging and kernel request tracing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *hostAddr != "" {
		cfg.Client.Host = *hostAddr
	}
	if *shareName != "" {
		cfg.Client.Share = *shareName
	}
	if *mountpoint != "" {
		cfg.Client.Mountpoint = *mountpoint
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}
	if *debug {
		cfg.Logging.Level = "debug"
		cfg.Client.Debug = true
	}
	if err := config.ValidateClient(cfg); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, err := cfg.Logger()
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting vsharefs-client",
		"host", cfg.Client.Host,
		"share", cfg.Client.Share,
		"mount", cfg.Client.Mountpoint,
	)

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

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.ConnectBudget+10*time.Second)
	conn, err := gateway.Dial(ctx, cfg.Client.Host,
		gateway.WithLogger(logger),
		gateway.WithDialTimeout(cfg.Client.DialTimeout),
		gateway.WithMaxConnectTime(cfg.Client.ConnectBudget),
	)
	if err != nil {
		cancel()
		logger.Error("failed to connect to share host", "error", err)
		os.Exit(1)
	}
	defer conn.CloseConn()

	root, err := conn.Mount(ctx, cfg.Client.Share)
	cancel()
	if err != nil {
		logger.Error("failed to mount share", "share", cfg.Client.Share, "error", err)
		os.Exit(1)
	}

	rootNode := vsfuse.NewRoot(gateway.Instrument(conn), root, logger)

	// The host is authoritative: zero cache timeouts force the kernel to
	// re-ask for entries and attributes instead of trusting stale answers.
	zero := time.Duration(0)
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:      cfg.Client.Debug,
			FsName:     "vsharefs",
			Name:       "vsharefs",
			AllowOther: cfg.Client.AllowOther,
		},
		AttrTimeout:  &zero,
		EntryTimeout: &zero,
	}

	server, err := fs.Mount(cfg.Client.Mountpoint, rootNode, opts)
	if err != nil {
		logger.Error("failed to mount", "error", err)
		os.Exit(1)
	}
	rootNode.SetServer(server)

	logger.Info("share mounted", "mountpoint", cfg.Client.Mountpoint)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, unmounting", "signal", sig)
		if err := server.Unmount(); err != nil {
			logger.Error("unmount error", "error", err)
		}
	}()

	server.Wait()
	logger.Info("share unmounted")
}
