package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddielth/sensor-poller/config"
	"github.com/eddielth/sensor-poller/logger"
	"github.com/eddielth/sensor-poller/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "configuration file path")
	interval := flag.Duration("interval", 0, "poll repeatedly at this interval; 0 runs a single pass")
	flag.Parse()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error("load configuration failed, using defaults: %v", err)
		cfg = config.Default()
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath, cfg.Logger.MaxSize,
		cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		logger.Error("initialize logger failed: %v", err)
	}
	defer logger.Close()

	sinks := runner.OpenSinks(cfg)
	defer sinks.Close()

	r := runner.New(cfg, runner.WithSinks(sinks))

	if *interval <= 0 {
		if _, err := r.RunOnce(context.Background()); err != nil {
			logger.Error("sensor update failed: %v", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := loader.Watch(func(newCfg *config.Config) error {
		logger.Info("applying new configuration...")
		return r.Apply(newCfg)
	}); err != nil {
		logger.Warn("configuration watch disabled: %v", err)
	} else {
		logger.Info("watching configuration file %s", *configPath)
	}

	logger.Info("sensor poller started, interval %v", interval.Round(time.Second))
	_ = r.Loop(ctx, *interval)
	logger.Info("sensor poller stopped")
	return 0
}
