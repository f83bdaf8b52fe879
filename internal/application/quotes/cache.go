package quotes

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

type key struct {
	contractID string
	token      string
}

// Cache guarda el último quote por (contrato, token). Last-write-wins, sin historial.
// Solo lo muta el consumidor del pipeline.
type Cache struct {
	quotes map[key]domain.BookQuote
}

// New crea una Cache vacía.
func New() *Cache {
	return &Cache{quotes: make(map[key]domain.BookQuote)}
}

// Update reemplaza incondicionalmente el quote guardado.
func (c *Cache) Update(contractID, token string, bid, ask float64, ts time.Time) {
	c.quotes[key{contractID, token}] = domain.BookQuote{
		ContractID: contractID,
		Token:      token,
		BestBid:    bid,
		BestAsk:    ask,
		ObservedAt: ts,
	}
}

// Best devuelve el último quote observado o ErrNoQuote.
func (c *Cache) Best(contractID, token string) (domain.BookQuote, error) {
	q, ok := c.quotes[key{contractID, token}]
	if !ok {
		return domain.BookQuote{}, fmt.Errorf("quotes.Best: %s/%s: %w", contractID, token, domain.ErrNoQuote)
	}
	return q, nil
}

// Remove borra los quotes de un contrato (al desalojarlo).
func (c *Cache) Remove(contractID string) {
	for k := range c.quotes {
		if k.contractID == contractID {
			delete(c.quotes, k)
		}
	}
}

// Len devuelve el número de quotes guardados.
func (c *Cache) Len() int { return len(c.quotes) }
