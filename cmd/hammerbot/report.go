package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/hammerbot/config"
	"github.com/alejandrodnm/hammerbot/internal/adapters/notify"
	"github.com/alejandrodnm/hammerbot/internal/adapters/storage"
)

// runReport imprime las operaciones de los últimos days días UTC.
func runReport(ctx context.Context, cfg *config.Config, days int) error {
	if days <= 0 {
		days = 1
	}

	journal, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("report: open journal: %w", err)
	}
	defer journal.Close()

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -(days - 1))

	trades, err := journal.Trades(ctx, from, now.Add(time.Minute))
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	daily, err := journal.DailyTotals(ctx, from)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	notify.NewConsole().PrintReport(notify.ReportInput{
		From:   from,
		To:     now,
		Trades: trades,
		Daily:  daily,
	})
	return nil
}
