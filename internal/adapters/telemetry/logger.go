package telemetry

import (
	"context"
	"log/slog"
	"sort"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// Logger escribe cada evento como una línea estructurada de slog.
// Los eventos de candidato y cambio de fase van a debug.
type Logger struct {
	log *slog.Logger
}

// NewLogger crea un Logger sobre l; si l es nil usa slog.Default().
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l.With("component", "telemetry")}
}

func (l *Logger) Emit(ev domain.Event) {
	level := slog.LevelInfo
	switch ev.Kind {
	case domain.EventCandidate, domain.EventPhaseChanged:
		level = slog.LevelDebug
	case domain.EventIntentRejected, domain.EventResolutionFailed, domain.EventContractInvalid:
		level = slog.LevelWarn
	}
	if !l.log.Enabled(context.Background(), level) {
		return
	}

	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+2)
	attrs = append(attrs, slog.String("event", string(ev.Kind)), slog.Time("at", ev.At))
	if ev.ContractID != "" {
		attrs = append(attrs, slog.String("contract", ev.ContractID))
	}
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, ev.Fields[k]))
	}
	l.log.LogAttrs(context.Background(), level, "event", attrs...)
}

// Observe no hace nada: el snapshot ya llega por métricas y redis.
func (l *Logger) Observe(domain.Snapshot) {}
