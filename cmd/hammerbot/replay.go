package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/hammerbot/config"
	"github.com/alejandrodnm/hammerbot/internal/adapters/storage"
	"github.com/alejandrodnm/hammerbot/internal/adapters/telemetry"
	"github.com/alejandrodnm/hammerbot/internal/application/engine"
)

// runReplay reprocesa en dry-run los eventos grabados en la ventana since.
// No escribe en el journal: el resultado solo se loguea.
func runReplay(ctx context.Context, cfg *config.Config, since time.Duration) error {
	ecfg, err := engineConfig(cfg)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	ecfg.Risk.DryRun = true

	journal, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("replay: open journal: %w", err)
	}
	defer journal.Close()

	to := time.Now()
	from := to.Add(-since)
	records, err := journal.LoadReplay(ctx, from, to)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if len(records) == 0 {
		slog.Warn("replay: no recorded events in window", "from", from.UTC(), "to", to.UTC())
		return nil
	}
	slog.Info("replay: starting", "events", len(records), "from", records[0].At.UTC(), "to", records[len(records)-1].At.UTC())

	eng := engine.New(ecfg, engine.Deps{
		Model:     probabilityModel(cfg),
		Telemetry: telemetry.NewLogger(nil),
	})
	st, err := eng.Replay(ctx, records)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	slog.Info("replay: done",
		"ticks", st.Ticks,
		"books", st.Books,
		"contracts", st.Contracts,
		"intents", st.Intents,
		"rejections", st.Rejections,
		"fills", st.Fills,
		"settlements", st.Settlements,
		"pnl", fmt.Sprintf("$%.2f", st.PnL),
	)
	return nil
}
