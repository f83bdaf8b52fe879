package fees

// cache.go: read-through cache del fee rate por token con TTL.
//
// Get es la lectura bloqueante: si la entrada venció la refresca del provider.
// FeeBps es la lectura del consumidor del pipeline: nunca bloquea; si la entrada
// no está fresca devuelve el fee por defecto y encola un refresh que hace Run.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alejandrodnm/hammerbot/internal/ports"
)

const refreshQueueSize = 64

type entry struct {
	bps       float64
	fetchedAt time.Time
}

// Cache guarda el fee en bps por token.
type Cache struct {
	provider ports.FeeRateProvider
	ttl      time.Duration
	fallback float64

	mu      sync.Mutex
	entries map[string]entry
	pending map[string]bool

	group   singleflight.Group
	refresh chan string
	now     func() time.Time
}

// New crea un Cache. Con provider nil siempre devuelve fallbackBps.
func New(provider ports.FeeRateProvider, ttl time.Duration, fallbackBps float64) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		fallback: fallbackBps,
		entries:  make(map[string]entry),
		pending:  make(map[string]bool),
		refresh:  make(chan string, refreshQueueSize),
		now:      time.Now,
	}
}

// Get devuelve el fee del token, refrescándolo si la entrada venció.
// Si el provider falla devuelve el fallback junto con el error.
func (c *Cache) Get(ctx context.Context, token string) (float64, error) {
	if bps, ok := c.fresh(token, c.now()); ok {
		return bps, nil
	}
	if c.provider == nil {
		return c.fallback, nil
	}
	v, err, _ := c.group.Do(token, func() (any, error) {
		bps, err := c.provider.FeeRateBps(ctx, token)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[token] = entry{bps: bps, fetchedAt: c.now()}
		c.mu.Unlock()
		return bps, nil
	})
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
	if err != nil {
		return c.fallback, fmt.Errorf("fees.Get: %s: %w", token, err)
	}
	return v.(float64), nil
}

// FeeBps implementa decision.FeeSource. No bloquea.
func (c *Cache) FeeBps(token string, now time.Time) float64 {
	if bps, ok := c.fresh(token, now); ok {
		return bps
	}
	if c.provider == nil {
		return c.fallback
	}
	c.mu.Lock()
	queued := c.pending[token]
	if !queued {
		c.pending[token] = true
	}
	c.mu.Unlock()
	if !queued {
		select {
		case c.refresh <- token:
		default:
			c.mu.Lock()
			delete(c.pending, token)
			c.mu.Unlock()
		}
	}
	return c.fallback
}

// Warm carga los tokens dados; los errores solo se loguean.
func (c *Cache) Warm(ctx context.Context, tokens []string) {
	for _, t := range tokens {
		if _, err := c.Get(ctx, t); err != nil {
			slog.Debug("fees: warm failed", "token", t, "err", err)
		}
	}
}

// Run atiende los refresh encolados por FeeBps hasta que ctx se cancela.
func (c *Cache) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case token := <-c.refresh:
			if _, err := c.Get(ctx, token); err != nil {
				slog.Warn("fees: refresh failed, using default", "token", token, "default_bps", c.fallback, "err", err)
			}
		}
	}
}

func (c *Cache) fresh(token string, now time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	if !ok || now.Sub(e.fetchedAt) > c.ttl {
		return 0, false
	}
	return e.bps, true
}
