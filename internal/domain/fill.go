package domain

import "time"

// FillStatus es el resultado de enviar una intent al exchange.
type FillStatus string

const (
	FillFilled    FillStatus = "FILLED"
	FillPartial   FillStatus = "PARTIAL"
	FillRejected  FillStatus = "REJECTED"
	FillTimeout   FillStatus = "TIMEOUT" // outcome desconocido; se contabiliza como no-fill
	FillCancelled FillStatus = "CANCELLED"
)

// Filled reports whether any size was executed.
func (s FillStatus) Filled() bool {
	return s == FillFilled || s == FillPartial
}

// FillOutcome es lo que se reconcilia en el ledger tras una submission.
type FillOutcome struct {
	IntentID   string
	ContractID string
	Side       Side
	Status     FillStatus
	OrderID    string
	FilledSize float64 // shares
	AvgPrice   float64
	Fee        float64 // USDC
	Reason     string
	DryRun     bool
	At         time.Time
}

// Cost devuelve el USDC gastado (precio × size + fee).
func (f FillOutcome) Cost() float64 {
	if !f.Status.Filled() {
		return 0
	}
	return f.AvgPrice*f.FilledSize + f.Fee
}

// Settlement es la liquidación de una posición al vencimiento del contrato.
type Settlement struct {
	ContractID string
	Side       Side
	Winner     Side
	StartPrice float64
	EndPrice   float64
	Shares     float64
	Cost       float64
	Payout     float64
	PnL        float64
	SettledAt  time.Time
}

// Won reports whether the position finished in the money.
func (s Settlement) Won() bool { return s.Side == s.Winner }
