package ports

import (
	"context"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// PriceStream entrega ticks del precio de referencia.
// Lo implementan tanto el stream primario como el poller de fallback.
type PriceStream interface {
	// Stream bloquea hasta que ctx se cancela. Los errores de conexión se
	// reintentan internamente; solo devuelve error si no puede continuar.
	Stream(ctx context.Context, out chan<- domain.PriceTick) error
}

// OrderSubmitter envía una intent firmada al exchange y devuelve el resultado.
// No se invoca en dry-run.
type OrderSubmitter interface {
	Submit(ctx context.Context, intent domain.Intent) (domain.FillOutcome, error)
}
