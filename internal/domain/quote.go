package domain

import "time"

// BookQuote es el último best bid / best ask observado para un token de un contrato.
type BookQuote struct {
	ContractID string
	Token      string
	BestBid    float64
	BestAsk    float64
	ObservedAt time.Time
}

// HasAsk reports whether there is a usable ask in (0, 1).
func (q BookQuote) HasAsk() bool {
	return q.BestAsk > 0 && q.BestAsk < 1
}

// BookUpdate es un snapshot del libro recibido del stream de order book.
type BookUpdate struct {
	Token      string
	Book       OrderBook
	ObservedAt time.Time
}
