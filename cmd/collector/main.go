package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/magicaleks/evidence-collector/internal/collector"
	"github.com/magicaleks/evidence-collector/internal/config"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to a YAML config file")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("evidence-collector %s (built %s)\n", config.Version, config.BuildTime)
		return
	}

	// Load configuration from the file and environment variables
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg, "collector")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting evidence-collector",
		"version", config.Version,
		"build_time", config.BuildTime,
		"debug", cfg.Debug,
	)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	c, err := collector.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create collector", "err", err)
		os.Exit(1)
	}

	if err := c.Run(ctx); err != nil {
		logger.Error("collector exited with error", "err", err)
		os.Exit(1)
	}

	logger.Info("collector stopped cleanly")
}
