package domain

import "time"

// TradeRecord es una fila del reporte: intent, su resultado y su liquidación si la hubo.
type TradeRecord struct {
	IntentID   string
	ContractID string
	Side       Side
	LimitPrice float64
	Size       float64
	EV         float64
	CreatedAt  time.Time
	Status     FillStatus // vacío si aún no hay resultado
	FilledSize float64
	AvgPrice   float64
	Fee        float64
	DryRun     bool
	Settled    bool
	Winner     Side
	PnL        float64
}

// DailyTotal agrega la actividad de un día UTC.
type DailyTotal struct {
	Day      string
	Intents  int
	Fills    int
	Settled  int
	Wins     int
	Notional float64
	PnL      float64
}

// WinRate devuelve wins/settled, 0 si no hay liquidaciones.
func (d DailyTotal) WinRate() float64 {
	if d.Settled == 0 {
		return 0
	}
	return float64(d.Wins) / float64(d.Settled)
}
