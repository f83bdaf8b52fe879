package ports

import (
	"context"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// MarketResolver resuelve el slug de un contrato up/down a sus tokens y límites.
type MarketResolver interface {
	// Resolve devuelve la metadata del contrato. Un error excluye el contrato del
	// set activo hasta el siguiente refresh.
	Resolve(ctx context.Context, slug string) (domain.ContractMeta, error)
}

// FeeRateProvider devuelve el fee base (bps) de un token.
type FeeRateProvider interface {
	FeeRateBps(ctx context.Context, tokenID string) (float64, error)
}
