package ports

import "github.com/alejandrodnm/hammerbot/internal/domain"

// Telemetry recibe eventos estructurados y snapshots del motor.
// Las implementaciones nunca deben bloquear al llamador.
type Telemetry interface {
	Emit(ev domain.Event)
	Observe(snap domain.Snapshot)
}
