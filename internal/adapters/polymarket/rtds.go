package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const (
	DefaultRTDSURL   = "wss://ws-live-data.polymarket.com"
	defaultRTDSTopic = "crypto_prices_chainlink"
)

// RTDSStream es el feed primario: el precio Chainlink que publica el
// real-time data service de Polymarket, el mismo que resuelve los contratos.
type RTDSStream struct {
	url    string
	symbol string
	topic  string
	cfg    WSConfig
}

// NewRTDSStream crea el stream para symbol (p.ej. "BTC/USD").
func NewRTDSStream(url, symbol string, cfg WSConfig) *RTDSStream {
	if url == "" {
		url = DefaultRTDSURL
	}
	return &RTDSStream{url: url, symbol: symbol, topic: defaultRTDSTopic, cfg: cfg.withDefaults()}
}

// Stream implementa ports.PriceStream.
func (s *RTDSStream) Stream(ctx context.Context, out chan<- domain.PriceTick) error {
	filters, err := json.Marshal(map[string]string{"symbol": s.symbol})
	if err != nil {
		return fmt.Errorf("rtds.Stream: %w", err)
	}
	sub := rtdsSubscription{
		Action: "subscribe",
		Subscriptions: []rtdsTopicSpec{{
			Topic:   s.topic,
			Type:    "market",
			Filters: string(filters),
		}},
	}

	session := wsSession{
		name:      "rtds",
		url:       s.url,
		cfg:       s.cfg,
		subscribe: func() any { return sub },
		handle: func(msg []byte, _ time.Time) error {
			tick, ok := parseRTDSMessage(msg, s.symbol)
			if !ok {
				return nil
			}
			select {
			case out <- tick:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	return session.run(ctx)
}

// parseRTDSMessage extrae el tick de un mensaje del topic; cualquier otro
// mensaje (acks, pongs, otros símbolos) devuelve false.
func parseRTDSMessage(msg []byte, symbol string) (domain.PriceTick, bool) {
	var m rtdsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return domain.PriceTick{}, false
	}
	if !strings.EqualFold(m.Payload.Symbol, symbol) {
		return domain.PriceTick{}, false
	}
	price, err := m.Payload.Value.Float64()
	if err != nil {
		return domain.PriceTick{}, false
	}
	ms, err := m.Payload.TimestampMs.Int64()
	if err != nil {
		// algunos payloads traen el timestamp con decimales
		f, ferr := m.Payload.TimestampMs.Float64()
		if ferr != nil {
			return domain.PriceTick{}, false
		}
		ms = int64(f)
	}

	tick := domain.PriceTick{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(ms).UTC(),
		Price:     price,
		Source:    domain.FeedPrimary,
	}
	if !tick.Valid() {
		slog.Debug("rtds: dropping invalid tick", "price", price, "ts_ms", ms)
		return domain.PriceTick{}, false
	}
	return tick, true
}
