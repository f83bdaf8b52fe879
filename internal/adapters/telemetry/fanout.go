package telemetry

import (
	"github.com/alejandrodnm/hammerbot/internal/domain"
	"github.com/alejandrodnm/hammerbot/internal/ports"
)

// Fanout reenvía cada evento y snapshot a varios sinks, en orden.
type Fanout []ports.Telemetry

// NewFanout descarta los sinks nil.
func NewFanout(sinks ...ports.Telemetry) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f Fanout) Emit(ev domain.Event) {
	for _, s := range f {
		s.Emit(ev)
	}
}

func (f Fanout) Observe(snap domain.Snapshot) {
	for _, s := range f {
		s.Observe(snap)
	}
}
