package domain

import "time"

// EventKind clasifica los eventos estructurados que se envían a telemetría.
type EventKind string

const (
	EventWatchTriggered    EventKind = "watch_triggered"
	EventPhaseChanged      EventKind = "phase_changed"
	EventCandidate         EventKind = "candidate_evaluated"
	EventIntentAdmitted    EventKind = "intent_admitted"
	EventIntentRejected    EventKind = "intent_rejected"
	EventFillOutcome       EventKind = "fill_outcome"
	EventSettlement        EventKind = "settlement"
	EventFeedMode          EventKind = "feed_mode"
	EventResolutionFailed  EventKind = "contract_resolution_failed"
	EventStartPriceCapture EventKind = "start_price_captured"
	EventContractInvalid   EventKind = "contract_invalid"
)

// Event es un evento de telemetría. Fields se copia al emitir; nunca se comparte estado vivo.
type Event struct {
	Kind       EventKind
	ContractID string
	At         time.Time
	Fields     map[string]any
}

// NewEvent construye un Event con pares clave/valor alternos.
func NewEvent(kind EventKind, contractID string, at time.Time, kv ...any) Event {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	return Event{Kind: kind, ContractID: contractID, At: at, Fields: fields}
}
