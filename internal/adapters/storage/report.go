package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// Trades devuelve las intents creadas en [from, to) con su resultado y
// liquidación, más recientes primero.
func (j *Journal) Trades(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT i.id, i.contract_id, i.side, i.limit_price, i.size, i.ev, i.created_ms,
		       o.status, COALESCE(o.filled_size, 0), COALESCE(o.avg_price, 0), COALESCE(o.fee, 0),
		       COALESCE(o.dry_run, 0), s.winner, COALESCE(s.pnl, 0)
		FROM intents i
		LEFT JOIN outcomes o    ON o.intent_id = i.id
		LEFT JOIN settlements s ON s.contract_id = i.contract_id
		WHERE i.created_ms >= ? AND i.created_ms < ?
		ORDER BY i.created_ms DESC`,
		toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("storage.Trades: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var (
			t         domain.TradeRecord
			side      string
			createdMs int64
			status    sql.NullString
			winner    sql.NullString
			dryRun    int
		)
		if err := rows.Scan(&t.IntentID, &t.ContractID, &side, &t.LimitPrice, &t.Size, &t.EV, &createdMs,
			&status, &t.FilledSize, &t.AvgPrice, &t.Fee, &dryRun, &winner, &t.PnL); err != nil {
			return nil, fmt.Errorf("storage.Trades: scan: %w", err)
		}
		t.Side = domain.Side(side)
		t.CreatedAt = fromMillis(createdMs)
		t.Status = domain.FillStatus(status.String)
		t.DryRun = dryRun == 1
		t.Settled = winner.Valid
		t.Winner = domain.Side(winner.String)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DailyTotals agrega por día UTC desde from. Los días sin intents no aparecen.
func (j *Journal) DailyTotals(ctx context.Context, from time.Time) ([]domain.DailyTotal, error) {
	trades, err := j.Trades(ctx, from, time.Now().Add(time.Hour))
	if err != nil {
		return nil, fmt.Errorf("storage.DailyTotals: %w", err)
	}

	byDay := make(map[string]*domain.DailyTotal)
	var days []string
	for i := len(trades) - 1; i >= 0; i-- { // ascendente
		t := trades[i]
		key := domain.DayKey(t.CreatedAt)
		d, ok := byDay[key]
		if !ok {
			d = &domain.DailyTotal{Day: key}
			byDay[key] = d
			days = append(days, key)
		}
		d.Intents++
		if t.Status.Filled() {
			d.Fills++
			d.Notional += t.AvgPrice*t.FilledSize + t.Fee
		}
		if t.Settled && t.Status.Filled() {
			d.Settled++
			d.PnL += t.PnL
			if t.Winner == t.Side {
				d.Wins++
			}
		}
	}

	out := make([]domain.DailyTotal, 0, len(days))
	for _, k := range days {
		out = append(out, *byDay[k])
	}
	return out, nil
}
