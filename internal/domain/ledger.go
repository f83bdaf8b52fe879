package domain

import (
	"encoding/json"
	"time"
)

// Position es una posición abierta tras un fill, pendiente de liquidar.
type Position struct {
	IntentID   string
	ContractID string
	Side       Side
	Shares     float64
	Cost       float64
	OpenedAt   time.Time
}

// RiskState es lo que el journal devuelve al arrancar para restaurar el ledger.
type RiskState struct {
	Day        string // YYYY-MM-DD UTC
	DailyPnL   float64
	TradeTimes []time.Time
	Admitted   []string // contract ids con intent admitida
	Open       []Position
}

// DayKey devuelve la clave de día UTC usada por el ledger.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Replay streams.
const (
	StreamTick     = "tick"
	StreamBook     = "book"
	StreamContract = "contract"
)

// ReplayRecord es un evento crudo grabado para reproducir una sesión.
type ReplayRecord struct {
	At      time.Time
	Stream  string
	Payload json.RawMessage
}
