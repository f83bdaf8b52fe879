package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// Replay reprocesa eventos grabados en orden, usando su timestamp como reloj.
// Solo corre en dry-run: no hay streams ni submissions reales.
func (e *Engine) Replay(ctx context.Context, records []domain.ReplayRecord) (Stats, error) {
	if !e.gateway.DryRun() {
		return Stats{}, errors.New("engine.Replay: replay requires dry-run")
	}
	e.replaying = true
	defer func() { e.replaying = false }()

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return e.stats, fmt.Errorf("engine.Replay: %w", err)
		}
		if i == 0 {
			e.feed = NewFeedMonitor(e.cfg.FeedStale, rec.At)
		}
		e.onClock(ctx, rec.At)

		switch rec.Stream {
		case domain.StreamTick:
			var t domain.PriceTick
			if err := json.Unmarshal(rec.Payload, &t); err != nil {
				slog.Warn("replay: bad tick record", "at", rec.At, "err", err)
				continue
			}
			e.onTick(ctx, t, rec.At)
		case domain.StreamBook:
			var b domain.BookUpdate
			if err := json.Unmarshal(rec.Payload, &b); err != nil {
				slog.Warn("replay: bad book record", "at", rec.At, "err", err)
				continue
			}
			e.onBook(ctx, b, rec.At)
		case domain.StreamContract:
			var m domain.ContractMeta
			if err := json.Unmarshal(rec.Payload, &m); err != nil {
				slog.Warn("replay: bad contract record", "at", rec.At, "err", err)
				continue
			}
			e.onContract(ctx, contractMsg{slug: m.Slug, meta: m}, rec.At)
		default:
			slog.Debug("replay: unknown stream", "stream", rec.Stream)
		}
	}
	e.flushPersist(ctx)
	return e.stats, nil
}
