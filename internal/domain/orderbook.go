package domain

import (
	"strconv"
	"time"
)

// OrderBook representa el libro de órdenes de un token.
// Los niveles pueden llegar sin ordenar desde el stream; BestBid/BestAsk no asumen orden.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry
	Asks    []BookEntry
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	var best float64
	for _, b := range ob.Bids {
		if b.Size > 0 && b.Price > best {
			best = b.Price
		}
	}
	return best
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	var best float64
	for _, a := range ob.Asks {
		if a.Size <= 0 || a.Price <= 0 {
			continue
		}
		if best == 0 || a.Price < best {
			best = a.Price
		}
	}
	return best
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Quote reduce el libro a un BookQuote para el contrato dado.
func (ob OrderBook) Quote(contractID string, at time.Time) BookQuote {
	return BookQuote{
		ContractID: contractID,
		Token:      ob.TokenID,
		BestBid:    ob.BestBid(),
		BestAsk:    ob.BestAsk(),
		ObservedAt: at,
	}
}

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
