package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotStart(t *testing.T) {
	now := time.Unix(1_700_000_123, 0)
	assert.Equal(t, int64(1_700_000_100), SlotStart(now, Horizon5m).Unix())
	assert.Equal(t, int64(1_700_000_100), SlotStart(now, Horizon15m).Unix())
	assert.Equal(t, int64(1_699_999_800), SlotStart(now.Add(-time.Minute), Horizon5m).Unix())
}

func TestContractSlug_RoundTrip(t *testing.T) {
	start := time.Unix(1_700_000_100, 0)
	slug := ContractSlug("BTC", Horizon5m, start)
	assert.Equal(t, "btc-updown-5m-1700000100", slug)

	asset, h, got, err := ParseContractSlug(slug)
	require.NoError(t, err)
	assert.Equal(t, "btc", asset)
	assert.Equal(t, Horizon5m, h)
	assert.True(t, got.Equal(start))
}

func TestParseContractSlug_Rejects(t *testing.T) {
	for _, slug := range []string{
		"btc-up-5m-1700000100",
		"btc-updown-7m-1700000100",
		"btc-updown-5m-abc",
		"btc-updown-5m-1700000101", // no alineado
	} {
		_, _, _, err := ParseContractSlug(slug)
		assert.Error(t, err, slug)
	}
}

func TestContract_SidesAndTiming(t *testing.T) {
	start := time.Unix(1_700_000_100, 0)
	c := Contract{ID: "x", Start: start, End: start.Add(5 * time.Minute), UpToken: "u", DownToken: "d"}

	assert.Equal(t, "u", c.TokenFor(SideUp))
	assert.Equal(t, "d", c.TokenFor(SideDown))
	side, ok := c.SideOf("d")
	assert.True(t, ok)
	assert.Equal(t, SideDown, side)
	_, ok = c.SideOf("zz")
	assert.False(t, ok)

	assert.True(t, c.Running(start))
	assert.False(t, c.Running(c.End))
	assert.Equal(t, 10*time.Second, c.Remaining(c.End.Add(-10*time.Second)))
	assert.Equal(t, time.Duration(0), c.Remaining(c.End.Add(time.Second)))
	assert.False(t, c.Tradeable())
}

func TestCandidate_Better(t *testing.T) {
	up := Candidate{Side: SideUp, D: 2, Ask: 0.9, EV: 0.01}
	down := Candidate{Side: SideDown, D: 2, Ask: 0.9, EV: 0.02}
	assert.True(t, down.Better(up))

	// mismo EV: gana mayor distancia direccional
	down.EV = 0.01
	down.D = -3
	assert.True(t, down.Better(up))
	assert.False(t, up.Better(down))

	// mismo EV y distancia: gana menor ask
	down.D = -2
	down.Ask = 0.8
	assert.True(t, down.Better(up))

	// todo igual: UP primero
	down.Ask = 0.9
	assert.True(t, up.Better(down))
	assert.False(t, down.Better(up))
}

func TestOrderBook_UnsortedLevels(t *testing.T) {
	ob := OrderBook{
		TokenID: "t",
		Bids:    []BookEntry{{0.40, 10}, {0.45, 5}, {0.50, 0}},
		Asks:    []BookEntry{{0.60, 10}, {0.55, 3}, {0.52, 0}},
	}
	assert.Equal(t, 0.45, ob.BestBid())
	assert.Equal(t, 0.55, ob.BestAsk())
	q := ob.Quote("c", time.Unix(1, 0))
	assert.Equal(t, "t", q.Token)
	assert.True(t, q.HasAsk())
}

func TestRiskRejection_Unwrap(t *testing.T) {
	var err error = &RiskRejection{Reason: RejectFeedDegraded}
	assert.ErrorIs(t, err, ErrFeedDegraded)
	assert.NotErrorIs(t, err, ErrRiskLimitBreached)

	err = &RiskRejection{Reason: RejectDailyLoss, Detail: "x"}
	assert.ErrorIs(t, err, ErrRiskLimitBreached)
	assert.Contains(t, err.Error(), "max_daily_loss")
}
