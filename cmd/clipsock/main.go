//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/touka-aoi/clipsock/api"
	"github.com/touka-aoi/clipsock/config"
	"github.com/touka-aoi/clipsock/console"
	"github.com/touka-aoi/clipsock/core/core"
	"github.com/touka-aoi/clipsock/core/engine"
	"github.com/touka-aoi/clipsock/eventlog"
	"github.com/touka-aoi/clipsock/notify"
	"github.com/touka-aoi/clipsock/server"
	"github.com/touka-aoi/clipsock/sink"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("clipsock exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	// Parse flags
	sinkKind := string(cfg.Sink)
	flag.StringVar(&cfg.ListenAddress, "listen", cfg.ListenAddress, "Address to accept payloads on (host:port or [ipv6]:port)")
	flag.StringVar(&sinkKind, "sink", sinkKind, "Payload sink: clipboard or memory")
	flag.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "Number of payloads kept in memory")
	flag.StringVar(&cfg.HealthAddress, "health", cfg.HealthAddress, "Address of the health endpoint, empty to disable")
	flag.BoolVar(&cfg.Console, "console", cfg.Console, "Run the interactive console")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	flag.StringVar(&cfg.LockFile, "lock", cfg.LockFile, "Single instance lock file")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	version := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *version {
		fmt.Println(notify.Tooltip(Version, "TCP to clipboard server"))
		return nil
	}

	cfg.Sink = config.SinkKind(sinkKind)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Setup logging
	logger := eventlog.Setup(eventlog.Options{Debug: cfg.Debug, Format: cfg.LogFormat})

	lock, err := core.AcquireInstanceLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	history := sink.NewMemory(cfg.HistorySize)
	var payloadSink sink.Sink = history
	if cfg.Sink == config.SinkClipboard {
		clip, err := sink.NewClipboard(history)
		if err != nil {
			slog.Warn("Clipboard unavailable, keeping payloads in memory", "error", err)
		} else {
			payloadSink = clip
		}
	}

	netEngine, err := engine.NewEpollNetEngine(server.MaxWaitObjects)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer netEngine.Close()

	notifiers := notify.Multi{notify.NewWriter(os.Stderr, Version)}
	var health *api.HealthServer
	if cfg.HealthAddress != "" {
		health = api.NewHealthServer(cfg.HealthAddress)
		notifiers = append(notifiers, health)
		health.Start()
	}

	srv := server.NewNetworkServer(netEngine, payloadSink, notifiers, server.NetworkServerConfig{
		Address: cfg.ListenAddress,
		Events:  eventlog.New(logger),
	})

	// Handle shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil && !cfg.Console {
		return err
	}

	if cfg.Console {
		go func() {
			defer stop()
			c := console.New(srv, history, config.DefaultListenAddress, os.Stdout)
			if err := c.Run(ctx); err != nil {
				slog.Error("Console error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Warn("Server did not stop cleanly", "error", err)
	}
	if health != nil {
		if err := health.Stop(shutdownCtx); err != nil {
			slog.Warn("Health server did not stop cleanly", "error", err)
		}
	}

	slog.Info("Server stopped")
	return nil
}
