package risk

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// Ledger es el estado de riesgo del proceso: PnL diario, trades de la última hora,
// exposición abierta e intents en vuelo. Solo lo muta el consumidor.
type Ledger struct {
	day          string
	dailyPnL     float64
	tradeTimes   []time.Time
	openExposure float64
	pending      map[string]domain.Intent   // intent id → intent en vuelo
	positions    map[string]domain.Position // contract id → posición abierta
	admitted     map[string]string          // contract id → intent id
}

func newLedger() Ledger {
	return Ledger{
		pending:   make(map[string]domain.Intent),
		positions: make(map[string]domain.Position),
		admitted:  make(map[string]string),
	}
}

// rollDay resetea el PnL diario al cruzar el día UTC.
func (l *Ledger) rollDay(now time.Time) {
	day := domain.DayKey(now)
	if l.day == day {
		return
	}
	if l.day != "" {
		slog.Info("risk: new UTC day, resetting daily pnl",
			"previous_day", l.day,
			"previous_pnl", fmt.Sprintf("$%.2f", l.dailyPnL),
		)
	}
	l.day = day
	l.dailyPnL = 0
}

// pruneHour descarta timestamps fuera de la ventana de 60 minutos.
func (l *Ledger) pruneHour(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(l.tradeTimes) && !l.tradeTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.tradeTimes = append(l.tradeTimes[:0], l.tradeTimes[i:]...)
	}
}

func (l *Ledger) pendingNotional() float64 {
	var sum float64
	for _, in := range l.pending {
		sum += in.Notional()
	}
	return sum
}

// releaseExposure resta coste de la exposición abierta sin dejarla negativa.
func (l *Ledger) releaseExposure(cost float64) {
	l.openExposure -= cost
	if l.openExposure < 0 {
		if l.openExposure < -1e-9 {
			slog.Warn("risk: open exposure went negative, clamping to zero",
				"exposure", fmt.Sprintf("$%.4f", l.openExposure))
		}
		l.openExposure = 0
	}
}

func (l *Ledger) snapshot(now time.Time) domain.LedgerSnapshot {
	count := 0
	cutoff := now.Add(-time.Hour)
	for _, ts := range l.tradeTimes {
		if ts.After(cutoff) {
			count++
		}
	}
	return domain.LedgerSnapshot{
		Day:             l.day,
		DailyPnL:        l.dailyPnL,
		OpenExposure:    l.openExposure,
		PendingNotional: l.pendingNotional(),
		TradesLastHour:  count,
		Positions:       len(l.positions),
	}
}
