package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// Journal persiste intents, resultados y liquidaciones para auditoría y restart.
type Journal interface {
	SaveIntent(ctx context.Context, intent domain.Intent) error
	SaveOutcome(ctx context.Context, out domain.FillOutcome) error
	SaveSettlement(ctx context.Context, s domain.Settlement) error

	// LoadRiskState reconstruye el estado de riesgo del día UTC de now.
	LoadRiskState(ctx context.Context, now time.Time) (domain.RiskState, error)

	Close() error
}

// Recorder guarda eventos crudos para replay. Record nunca bloquea.
type Recorder interface {
	Record(rec domain.ReplayRecord)
}

// ReplaySource devuelve los eventos grabados en orden de llegada.
type ReplaySource interface {
	LoadReplay(ctx context.Context, from, to time.Time) ([]domain.ReplayRecord, error)
}

// SnapshotSink publica el snapshot del motor para lectores externos.
type SnapshotSink interface {
	Publish(ctx context.Context, snap domain.Snapshot) error
}
