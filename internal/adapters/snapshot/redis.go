package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// RedisConfig configura el publicador.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string        // clave con el último snapshot
	Channel  string        // canal pub/sub; vacío = no publica
	TTL      time.Duration // expiración de Key; 0 = sin expiración
}

// Redis implementa ports.SnapshotSink: guarda el último snapshot en Key y lo
// anuncia por Channel para el dashboard.
type Redis struct {
	rdb *redis.Client
	cfg RedisConfig
}

// NewRedis crea el cliente y comprueba la conexión.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Key == "" {
		cfg.Key = "hammerbot:snapshot"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("snapshot.NewRedis: ping %s: %w", cfg.Addr, err)
	}
	return &Redis{rdb: rdb, cfg: cfg}, nil
}

// Publish escribe el snapshot y lo publica en una sola ida y vuelta.
func (r *Redis) Publish(ctx context.Context, snap domain.Snapshot) error {
	payload, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("snapshot.Publish: %w", err)
	}
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.cfg.Key, payload, r.cfg.TTL)
		if r.cfg.Channel != "" {
			pipe.Publish(ctx, r.cfg.Channel, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot.Publish: %w", err)
	}
	return nil
}

// Close cierra el cliente.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

type ledgerJSON struct {
	Day             string  `json:"day"`
	DailyPnL        float64 `json:"daily_pnl"`
	OpenExposure    float64 `json:"open_exposure"`
	PendingNotional float64 `json:"pending_notional"`
	TradesLastHour  int     `json:"trades_last_hour"`
	Positions       int     `json:"positions"`
}

type contractJSON struct {
	ID         string  `json:"id"`
	Horizon    string  `json:"horizon"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	StartPrice float64 `json:"start_price,omitempty"`
	Phase      string  `json:"phase"`
	Decided    bool    `json:"decided"`
	UpAsk      float64 `json:"up_ask,omitempty"`
	DownAsk    float64 `json:"down_ask,omitempty"`
	LastEV     float64 `json:"last_ev,omitempty"`
}

type snapshotJSON struct {
	At                int64          `json:"at_ms"`
	Symbol            string         `json:"symbol"`
	LastPrice         float64        `json:"last_price"`
	WatchReturn       float64        `json:"watch_return"`
	Sigma1            float64        `json:"sigma1"`
	FeedMode          string         `json:"feed_mode"`
	ReducedConfidence bool           `json:"reduced_confidence"`
	Ledger            ledgerJSON     `json:"ledger"`
	Contracts         []contractJSON `json:"contracts"`
}

// Encode serializa el snapshot al formato que lee el dashboard.
func Encode(snap domain.Snapshot) ([]byte, error) {
	out := snapshotJSON{
		At:                snap.At.UnixMilli(),
		Symbol:            snap.Symbol,
		LastPrice:         snap.LastPrice,
		WatchReturn:       snap.WatchReturn,
		Sigma1:            snap.Sigma1,
		FeedMode:          string(snap.FeedMode),
		ReducedConfidence: snap.ReducedConfidence,
		Ledger:            ledgerJSON(snap.Ledger),
		Contracts:         make([]contractJSON, 0, len(snap.Contracts)),
	}
	for _, c := range snap.Contracts {
		out.Contracts = append(out.Contracts, contractJSON{
			ID:         c.ID,
			Horizon:    c.Horizon,
			Start:      c.Start.Unix(),
			End:        c.End.Unix(),
			StartPrice: c.StartPrice,
			Phase:      c.Phase,
			Decided:    c.Decided,
			UpAsk:      c.UpAsk,
			DownAsk:    c.DownAsk,
			LastEV:     c.LastEV,
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}
