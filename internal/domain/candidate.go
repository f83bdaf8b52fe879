package domain

import "time"

// Side es el lado de un contrato up/down.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Sides en orden de preferencia para desempates finales.
var Sides = []Side{SideUp, SideDown}

// Candidate es una evaluación transitoria de un lado de un contrato.
// D es la distancia con signo (precio actual - start_price).
type Candidate struct {
	ContractID string
	Side       Side
	Token      string
	D          float64
	Sigma1     float64
	PHat       float64 // probabilidad de que gane este lado
	Ask        float64
	FeeCost    float64
	EV         float64
	SecsLeft   float64
}

// DirectionalD devuelve la distancia en la dirección del lado: d para UP, -d para DOWN.
func (c Candidate) DirectionalD() float64 {
	if c.Side == SideDown {
		return -c.D
	}
	return c.D
}

// Better reports whether c should be preferred over o.
// Orden: mayor EV, luego mayor distancia direccional, luego menor ask, luego UP antes que DOWN.
func (c Candidate) Better(o Candidate) bool {
	if c.EV != o.EV {
		return c.EV > o.EV
	}
	if c.DirectionalD() != o.DirectionalD() {
		return c.DirectionalD() > o.DirectionalD()
	}
	if c.Ask != o.Ask {
		return c.Ask < o.Ask
	}
	return c.Side == SideUp && o.Side != SideUp
}

// Intent es la orden que el state machine pide ejecutar. Una por contrato como máximo.
type Intent struct {
	ID         string
	ContractID string
	Side       Side
	Token      string
	LimitPrice float64
	Size       float64 // shares
	NegRisk    bool
	CreatedAt  time.Time
	Candidate  Candidate
}

// Notional devuelve el coste máximo de la orden en USDC.
func (i Intent) Notional() float64 {
	return i.LimitPrice * i.Size
}
