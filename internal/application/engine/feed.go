package engine

import (
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// FeedMonitor decide el modo del feed de referencia según la frescura del primario.
// La frescura se mide con la hora de llegada de los ticks, no con su timestamp.
type FeedMonitor struct {
	stale       time.Duration
	mode        domain.FeedMode
	lastPrimary time.Time
}

// NewFeedMonitor arranca en modo primario; start cuenta como última llegada.
func NewFeedMonitor(stale time.Duration, start time.Time) *FeedMonitor {
	return &FeedMonitor{stale: stale, mode: domain.FeedPrimary, lastPrimary: start}
}

// Observe registra la llegada de un tick primario.
func (m *FeedMonitor) Observe(arrivedAt time.Time) {
	if arrivedAt.After(m.lastPrimary) {
		m.lastPrimary = arrivedAt
	}
}

// Check devuelve el modo vigente, si cambió en esta llamada y la edad del último tick primario.
func (m *FeedMonitor) Check(now time.Time) (domain.FeedMode, bool, time.Duration) {
	age := now.Sub(m.lastPrimary)
	stale := age > m.stale
	switch {
	case stale && m.mode == domain.FeedPrimary:
		m.mode = domain.FeedFallback
		return m.mode, true, age
	case !stale && m.mode == domain.FeedFallback:
		m.mode = domain.FeedPrimary
		return m.mode, true, age
	}
	return m.mode, false, age
}

// Mode devuelve el modo actual.
func (m *FeedMonitor) Mode() domain.FeedMode { return m.mode }
