package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hammerbot/internal/adapters/snapshot"
	"github.com/alejandrodnm/hammerbot/internal/domain"
)

func TestEncode(t *testing.T) {
	start := time.Unix(1_700_000_100, 0).UTC()
	snap := domain.Snapshot{
		At:        start.Add(850 * time.Second),
		Symbol:    "BTC/USD",
		LastPrice: 67000.5,
		Sigma1:    0.00004,
		FeedMode:  domain.FeedPrimary,
		Ledger:    domain.LedgerSnapshot{Day: "2023-11-14", DailyPnL: 1.5, TradesLastHour: 2, Positions: 1},
		Contracts: []domain.ContractSnapshot{{
			ID: "btc-updown-15m-1700000100", Horizon: "15m", Start: start, End: start.Add(15 * time.Minute),
			StartPrice: 66900, Phase: "HAMMER_WINDOW", UpAsk: 0.91,
		}},
	}

	b, err := snapshot.Encode(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"at_ms": 1700000950000,
		"symbol": "BTC/USD",
		"last_price": 67000.5,
		"watch_return": 0,
		"sigma1": 0.00004,
		"feed_mode": "primary",
		"reduced_confidence": false,
		"ledger": {"day":"2023-11-14","daily_pnl":1.5,"open_exposure":0,"pending_notional":0,"trades_last_hour":2,"positions":1},
		"contracts": [{"id":"btc-updown-15m-1700000100","horizon":"15m","start":1700000100,"end":1700001000,
			"start_price":66900,"phase":"HAMMER_WINDOW","decided":false,"up_ask":0.91}]
	}`, string(b))
}

func TestEncode_FallbackIsReducedConfidence(t *testing.T) {
	b, err := snapshot.Encode(domain.Snapshot{FeedMode: domain.FeedFallback, ReducedConfidence: true})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"feed_mode":"fallback"`)
	assert.Contains(t, string(b), `"reduced_confidence":true`)
}

func TestEncode_EmptyContractsIsArray(t *testing.T) {
	b, err := snapshot.Encode(domain.Snapshot{})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"contracts":[]`)
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := snapshot.NewRedis(ctx, snapshot.RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot.NewRedis")
}
