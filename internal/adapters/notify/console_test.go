package notify_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/hammerbot/internal/adapters/notify"
	"github.com/alejandrodnm/hammerbot/internal/domain"
)

func TestConsole_PrintReport(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	created := time.Date(2026, 3, 2, 12, 14, 50, 0, time.UTC)
	c.PrintReport(notify.ReportInput{
		From: created.Add(-24 * time.Hour),
		To:   created.Add(time.Hour),
		Trades: []domain.TradeRecord{
			{IntentID: "i2", ContractID: "btc-updown-15m-1772453700", Side: domain.SideDown, LimitPrice: 0.93, Size: 10,
				EV: 0.02, CreatedAt: created, Status: domain.FillRejected, Settled: true, Winner: domain.SideUp},
			{IntentID: "i1", ContractID: "btc-updown-15m-1772452800", Side: domain.SideUp, LimitPrice: 0.9, Size: 22.2,
				EV: 0.031, CreatedAt: created.Add(-15 * time.Minute), Status: domain.FillFilled, FilledSize: 22.2,
				AvgPrice: 0.9, Fee: 0.05, Settled: true, Winner: domain.SideUp, PnL: 2.17},
		},
		Daily: []domain.DailyTotal{
			{Day: "2026-03-02", Intents: 2, Fills: 1, Settled: 1, Wins: 1, Notional: 20.03, PnL: 2.17},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "HAMMERBOT REPORT")
	assert.Contains(t, out, "Intents:  2 | Fills: 1 | Settled: 1 (win rate 100.0%)")
	assert.Contains(t, out, "2026-03-02")
	assert.Contains(t, out, "WIN")
	assert.Contains(t, out, "22.2@0.900")
	assert.Contains(t, out, "$2.1700")
	assert.Contains(t, out, "REJECTED")
}

func TestConsole_PrintReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	now := time.Now()
	c.PrintReport(notify.ReportInput{From: now.Add(-time.Hour), To: now})

	out := buf.String()
	assert.Contains(t, out, "TRADES (0)")
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "win rate 0.0%")
}

func TestConsole_PrintTrades_PendingAndDryRun(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	c.PrintTrades([]domain.TradeRecord{
		{IntentID: "i1", ContractID: "c1", Side: domain.SideUp, CreatedAt: time.Now()},
		{IntentID: "i2", ContractID: "c2", Side: domain.SideUp, CreatedAt: time.Now(), Status: domain.FillFilled,
			FilledSize: 5, AvgPrice: 0.91, DryRun: true},
	})

	out := buf.String()
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "FILLED (dry)")
	assert.Contains(t, out, "open")
}
