package chainlink

// poller.go: feed de fallback: consulta periódica de un endpoint HTTP de precio.
//
// Solo se usa mientras el stream primario está caído; sirve para liveness y
// para seguir marcando precio, no para arrancar contratos con confianza plena.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const (
	DefaultURL      = "https://api.chain.link/streams/btc-usd"
	defaultInterval = time.Second
	requestTimeout  = 5 * time.Second

	// epoch por encima de esto viene en milisegundos
	msThreshold = 1e12
)

// Poller implementa ports.PriceStream sobre un endpoint JSON {price, time|timestamp}.
type Poller struct {
	http     *http.Client
	url      string
	symbol   string
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewPoller crea un Poller. interval <= 0 usa 1s.
func NewPoller(url, symbol string, interval time.Duration) *Poller {
	if url == "" {
		url = DefaultURL
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		http:     &http.Client{Timeout: requestTimeout},
		url:      url,
		symbol:   symbol,
		interval: interval,
		// nunca más rápido que el intervalo, aunque un poll tarde y se acumulen ticks
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

// Stream hace poll hasta que ctx se cancela. Un poll fallido se loguea y se
// reintenta en el siguiente intervalo.
func (p *Poller) Stream(ctx context.Context, out chan<- domain.PriceTick) error {
	slog.Info("feed: fallback poller started", "url", p.url, "interval", p.interval)
	defer slog.Info("feed: fallback poller stopped")

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil
		}
		tick, err := p.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("feed: fallback poll failed", "err", err)
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return nil
		}
	}
}

type priceResponse struct {
	Price     json.Number `json:"price"`
	Time      json.Number `json:"time"`
	Timestamp json.Number `json:"timestamp"`
}

func (p *Poller) poll(ctx context.Context) (domain.PriceTick, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("chainlink.poll: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("chainlink.poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.PriceTick{}, fmt.Errorf("chainlink.poll: status %d: %s", resp.StatusCode, body)
	}

	var raw priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.PriceTick{}, fmt.Errorf("chainlink.poll: decode: %w", err)
	}
	return parsePrice(raw, p.symbol, p.now())
}

// parsePrice construye el tick. Sin timestamp usa now; acepta epoch en s o ms.
func parsePrice(raw priceResponse, symbol string, now time.Time) (domain.PriceTick, error) {
	price, err := raw.Price.Float64()
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("chainlink.parsePrice: price %q: %w", raw.Price, err)
	}

	ts := now
	for _, n := range []json.Number{raw.Time, raw.Timestamp} {
		if n == "" {
			continue
		}
		if v, err := n.Float64(); err == nil && v > 0 {
			ts = normalizeEpoch(v)
			break
		}
	}

	tick := domain.PriceTick{Symbol: symbol, Timestamp: ts, Price: price, Source: domain.FeedFallback}
	if !tick.Valid() {
		return domain.PriceTick{}, fmt.Errorf("chainlink.parsePrice: %w: price %v", domain.ErrStaleOrInvalidTick, price)
	}
	return tick, nil
}

func normalizeEpoch(v float64) time.Time {
	if v > msThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
