package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/hammerbot/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	replay := flag.Bool("replay", false, "re-run the engine in dry-run over recorded events and exit")
	replaySince := flag.Duration("since", 24*time.Hour, "replay window, counted back from now")
	report := flag.Bool("report", false, "print trades and daily totals from the journal and exit")
	reportDays := flag.Int("days", 7, "days covered by -report")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *report:
		err = runReport(ctx, cfg, *reportDays)
	case *replay:
		err = runReplay(ctx, cfg, *replaySince)
	default:
		slog.Info("hammerbot starting",
			"config", *configPath,
			"symbol", cfg.Engine.Symbol,
			"horizons", cfg.Engine.Horizons,
			"dry_run", cfg.DryRun(),
			"watch_return_threshold", cfg.Engine.WatchReturnThreshold,
			"hammer_secs", cfg.Engine.HammerSecs,
		)
		err = run(ctx, cfg)
	}
	if err != nil {
		slog.Error("hammerbot exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("hammerbot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
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
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
