package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const DefaultMarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// BookStream implementa ports.BookStream sobre el canal market del CLOB.
// Cada evento "book" es un snapshot completo del libro de un token.
type BookStream struct {
	url string
	cfg WSConfig

	mu     sync.Mutex
	tokens []string
	resub  chan struct{}
}

// NewBookStream crea el stream sin tokens; SetTokens arranca la suscripción.
func NewBookStream(url string, cfg WSConfig) *BookStream {
	if url == "" {
		url = DefaultMarketWSURL
	}
	return &BookStream{url: url, cfg: cfg.withDefaults(), resub: make(chan struct{}, 1)}
}

// SetTokens reemplaza el set suscrito. Si no cambió no hace nada.
func (b *BookStream) SetTokens(tokens []string) {
	next := slices.Clone(tokens)
	slices.Sort(next)
	next = slices.Compact(next)

	b.mu.Lock()
	changed := !slices.Equal(b.tokens, next)
	if changed {
		b.tokens = next
	}
	b.mu.Unlock()

	if changed {
		select {
		case b.resub <- struct{}{}:
		default:
		}
	}
}

func (b *BookStream) subscription() marketSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return marketSubscription{Type: "market", AssetsIDs: slices.Clone(b.tokens)}
}

// Stream mantiene la conexión mientras haya tokens; sin tokens espera a SetTokens.
func (b *BookStream) Stream(ctx context.Context, out chan<- domain.BookUpdate) error {
	session := wsSession{
		name:      "clob_market",
		url:       b.url,
		cfg:       b.cfg,
		subscribe: func() any { return b.subscription() },
		resub:     b.resub,
		handle: func(msg []byte, received time.Time) error {
			for _, upd := range parseMarketMessage(msg, received) {
				select {
				case out <- upd:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		},
	}

	for {
		if len(b.subscription().AssetsIDs) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-b.resub:
				continue
			}
		}
		return session.run(ctx)
	}
}

// parseMarketMessage devuelve los snapshots "book" del mensaje. El canal manda
// tanto objetos sueltos como arrays de eventos; el resto de tipos se ignora.
func parseMarketMessage(msg []byte, received time.Time) []domain.BookUpdate {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil
	}

	var events []bookEvent
	if msg[0] == '[' {
		if err := json.Unmarshal(msg, &events); err != nil {
			return nil
		}
	} else {
		var ev bookEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			return nil
		}
		events = []bookEvent{ev}
	}

	out := make([]domain.BookUpdate, 0, len(events))
	for _, ev := range events {
		if ev.EventType != "book" || ev.AssetID == "" {
			continue
		}
		out = append(out, mapBookEvent(ev, received))
	}
	return out
}
