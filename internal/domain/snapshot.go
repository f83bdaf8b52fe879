package domain

import "time"

// Phase es la fase del state machine de decisión. Solo avanza.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWatching
	PhaseHammerWindow
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseWatching:
		return "WATCHING"
	case PhaseHammerWindow:
		return "HAMMER_WINDOW"
	case PhaseDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// LedgerSnapshot es una copia del estado de riesgo.
type LedgerSnapshot struct {
	Day             string
	DailyPnL        float64
	OpenExposure    float64
	PendingNotional float64
	TradesLastHour  int
	Positions       int
}

// ContractSnapshot es una copia de un contrato y su estado de decisión.
type ContractSnapshot struct {
	ID         string
	Horizon    string
	Start      time.Time
	End        time.Time
	StartPrice float64
	Phase      string
	Decided    bool
	UpAsk      float64
	DownAsk    float64
	LastEV     float64
}

// Snapshot es la vista de solo lectura que se publica hacia dashboards.
type Snapshot struct {
	At                time.Time
	Symbol            string
	LastPrice         float64
	WatchReturn       float64
	Sigma1            float64
	FeedMode          FeedMode
	ReducedConfidence bool
	Ledger            LedgerSnapshot
	Contracts         []ContractSnapshot
}
