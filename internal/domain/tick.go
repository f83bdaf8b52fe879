package domain

import (
	"math"
	"time"
)

// FeedMode identifica de qué fuente llega el precio de referencia.
type FeedMode string

const (
	FeedPrimary  FeedMode = "primary"
	FeedFallback FeedMode = "fallback"
)

// ReducedConfidence indica que el precio viene del fallback.
func (m FeedMode) ReducedConfidence() bool { return m == FeedFallback }

// PriceTick es una observación inmutable del precio de referencia.
type PriceTick struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	Source    FeedMode
}

// Valid reports whether the tick carries a usable price and timestamp.
func (t PriceTick) Valid() bool {
	if t.Timestamp.IsZero() {
		return false
	}
	return t.Price > 0 && !math.IsNaN(t.Price) && !math.IsInf(t.Price, 0)
}

// Second devuelve el bucket de 1s al que pertenece el tick (epoch en segundos).
func (t PriceTick) Second() int64 {
	return t.Timestamp.Unix()
}
