package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	cacheRetention   = time.Hour
)

// Resolver implementa ports.MarketResolver contra Gamma, con cache por slug.
// Un contrato resuelto no cambia: las entradas solo se podan cuando el contrato venció.
type Resolver struct {
	client *Client

	mu    sync.Mutex
	cache map[string]domain.ContractMeta
}

// NewResolver crea un Resolver sobre el client dado.
func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client, cache: make(map[string]domain.ContractMeta)}
}

// Resolve devuelve la metadata del contrato con ese slug.
func (r *Resolver) Resolve(ctx context.Context, slug string) (domain.ContractMeta, error) {
	r.mu.Lock()
	meta, ok := r.cache[slug]
	r.mu.Unlock()
	if ok {
		return meta, nil
	}

	u := fmt.Sprintf("%s%s?slug=%s", r.client.gammaBase, gammaMarketsPath, url.QueryEscape(slug))
	var rows []gammaMarket
	if err := r.client.get(ctx, r.client.gammaLimiter, u, &rows); err != nil {
		return domain.ContractMeta{}, fmt.Errorf("gamma.Resolve %s: %w: %w", slug, domain.ErrContractResolution, err)
	}
	if len(rows) == 0 {
		return domain.ContractMeta{}, fmt.Errorf("gamma.Resolve %s: %w: market not found", slug, domain.ErrContractResolution)
	}

	meta, err := mapGammaMarket(slug, rows[0])
	if err != nil {
		return domain.ContractMeta{}, fmt.Errorf("gamma.Resolve %s: %w: %w", slug, domain.ErrContractResolution, err)
	}

	r.mu.Lock()
	r.prune(time.Now())
	r.cache[slug] = meta
	r.mu.Unlock()

	slog.Debug("gamma: contract resolved",
		"slug", slug,
		"up", meta.UpToken,
		"down", meta.DownToken,
		"tick", meta.TickSize,
		"neg_risk", meta.NegRisk,
	)
	return meta, nil
}

// prune descarta contratos vencidos hace más de cacheRetention. Requiere r.mu.
func (r *Resolver) prune(now time.Time) {
	for slug, m := range r.cache {
		if now.Sub(m.End) > cacheRetention {
			delete(r.cache, slug)
		}
	}
}
