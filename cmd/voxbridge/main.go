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

	"github.com/harunnryd/voxbridge/pkg/bridge"
	"github.com/harunnryd/voxbridge/pkg/config"
	"github.com/harunnryd/voxbridge/pkg/logging"
	"github.com/harunnryd/voxbridge/pkg/metrics"
	"github.com/harunnryd/voxbridge/pkg/runner"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)

	observer := buildObserver(cfg, logger)
	srv := bridge.NewServer(cfg, logger, observer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lifecycle := runner.NewLifecycleRunner(srv, runner.Hooks{
		OnStart: func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("server_start_failed", "error", err.Error())
				stop()
			}
			logger.Info("voxbridge_started",
				"addr", cfg.Server.Addr,
				"voice_path", cfg.Server.VoicePath,
				"ws_path", cfg.Server.WebsocketPath,
			)
		},
		OnStop: func() {
			logger.Info("voxbridge_stopped")
		},
	}, 10*time.Second)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("shutdown_error", "error", err.Error())
		os.Exit(1)
	}
}

func buildObserver(cfg config.Config, logger *slog.Logger) metrics.Observer {
	if cfg.MetricsPath == "" {
		return metrics.NoopObserver{}
	}
	f, err := os.OpenFile(cfg.MetricsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warn("metrics_file_open_failed", "path", cfg.MetricsPath, "error", err.Error())
		return metrics.NoopObserver{}
	}
	return metrics.NewJSONLObserver(f)
}
