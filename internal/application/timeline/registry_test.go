package timeline_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/application/timeline"
	"github.com/alejandrodnm/hammerbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sym = "BTC/USD"

var start = time.Unix(1_700_000_100, 0).UTC() // alineado a 5m y 15m

func newRegistry() *timeline.Registry {
	return timeline.New(timeline.Config{Asset: "btc", Symbol: sym, StartTolerance: 5 * time.Second})
}

func meta(h domain.Horizon, s time.Time) domain.ContractMeta {
	slug := domain.ContractSlug("btc", h, s)
	return domain.ContractMeta{Slug: slug, UpToken: slug + "-up", DownToken: slug + "-down"}
}

func tickAt(ts time.Time, price float64) domain.PriceTick {
	return domain.PriceTick{Symbol: sym, Timestamp: ts, Price: price, Source: domain.FeedPrimary}
}

func TestDesiredSlugs_CurrentAndNext(t *testing.T) {
	now := time.Unix(1_700_000_123, 0)
	got := timeline.DesiredSlugs("btc", domain.Horizons, now)
	assert.Equal(t, []string{
		"btc-updown-5m-1700000100",
		"btc-updown-5m-1700000400",
		"btc-updown-15m-1700000100",
		"btc-updown-15m-1700001000",
	}, got)
}

func TestAdmit_Idempotent(t *testing.T) {
	r := newRegistry()
	c, added, err := r.Admit(meta(domain.Horizon5m, start), start.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, start.Add(5*time.Minute), c.End)
	assert.Equal(t, domain.DefaultTickSize, c.TickSize)

	_, added, err = r.Admit(meta(domain.Horizon5m, start), start)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, r.ActiveContracts(), 1)
	assert.Len(t, r.Tokens(), 2)
}

func TestAdmit_ResolutionFailures(t *testing.T) {
	r := newRegistry()
	now := start.Add(-time.Minute)

	_, _, err := r.Admit(domain.ContractMeta{Slug: "garbage", UpToken: "a", DownToken: "b"}, now)
	assert.ErrorIs(t, err, domain.ErrContractResolution)

	m := meta(domain.Horizon5m, start)
	m.DownToken = ""
	_, _, err = r.Admit(m, now)
	assert.ErrorIs(t, err, domain.ErrContractResolution)

	eth := domain.ContractMeta{Slug: domain.ContractSlug("eth", domain.Horizon5m, start), UpToken: "a", DownToken: "b"}
	_, _, err = r.Admit(eth, now)
	assert.ErrorIs(t, err, domain.ErrContractResolution)

	m = meta(domain.Horizon5m, start)
	m.End = start.Add(10 * time.Minute)
	_, _, err = r.Admit(m, now)
	assert.ErrorIs(t, err, domain.ErrContractResolution)

	assert.Empty(t, r.ActiveContracts())
}

func TestStartPrice_CapturedOnceFromEarliestTickAtOrAfterStart(t *testing.T) {
	r := newRegistry()
	_, _, err := r.Admit(meta(domain.Horizon5m, start), start.Add(-time.Minute))
	require.NoError(t, err)

	res := r.ObserveTick(tickAt(start.Add(-time.Second), 99))
	assert.Empty(t, res.Started)

	res = r.ObserveTick(tickAt(start.Add(1500*time.Millisecond), 100.5))
	require.Len(t, res.Started, 1)
	assert.Equal(t, 100.5, res.Started[0].StartPrice)

	res = r.ObserveTick(tickAt(start.Add(2*time.Second), 101))
	assert.Empty(t, res.Started)

	c, ok := r.Get(meta(domain.Horizon5m, start).Slug)
	require.True(t, ok)
	assert.True(t, c.StartPriceSet)
	assert.Equal(t, 100.5, c.StartPrice)
	assert.True(t, c.Tradeable())
}

func TestStartPrice_SharedBoundaryAcrossHorizons(t *testing.T) {
	r := newRegistry()
	now := start.Add(-time.Minute)
	_, _, err := r.Admit(meta(domain.Horizon5m, start), now)
	require.NoError(t, err)
	_, _, err = r.Admit(meta(domain.Horizon15m, start), now)
	require.NoError(t, err)

	res := r.ObserveTick(tickAt(start, 100))
	assert.Len(t, res.Started, 2)
}

func TestStartPrice_LateAdmissionUsesRecordedBoundaryTick(t *testing.T) {
	r := newRegistry()
	r.ObserveTick(tickAt(start.Add(time.Second), 100.25))
	r.ObserveTick(tickAt(start.Add(20*time.Second), 100.75))

	c, added, err := r.Admit(meta(domain.Horizon5m, start), start.Add(30*time.Second))
	require.NoError(t, err)
	require.True(t, added)
	assert.True(t, c.StartPriceSet)
	assert.Equal(t, 100.25, c.StartPrice)
}

func TestStartPrice_FirstTickBeyondToleranceInvalidates(t *testing.T) {
	r := newRegistry()
	_, _, err := r.Admit(meta(domain.Horizon5m, start), start.Add(-time.Minute))
	require.NoError(t, err)

	res := r.ObserveTick(tickAt(start.Add(10*time.Second), 100))
	require.Len(t, res.Invalid, 1)
	c, _ := r.Get(res.Invalid[0].ID)
	assert.True(t, c.Invalid)
	assert.False(t, c.StartPriceSet)
	assert.False(t, c.Tradeable())
}

func TestAdvance_DeadlineInvalidatesWithoutTicks(t *testing.T) {
	r := newRegistry()
	_, _, err := r.Admit(meta(domain.Horizon5m, start), start.Add(-time.Minute))
	require.NoError(t, err)

	tr := r.Advance(start.Add(3 * time.Second))
	assert.Empty(t, tr.Invalidated)

	tr = r.Advance(start.Add(6 * time.Second))
	require.Len(t, tr.Invalidated, 1)

	tr = r.Advance(start.Add(7 * time.Second))
	assert.Empty(t, tr.Invalidated)
}

func TestAdvance_ExpiryEndPriceAndEviction(t *testing.T) {
	r := newRegistry()
	m := meta(domain.Horizon5m, start)
	_, _, err := r.Admit(m, start.Add(-time.Minute))
	require.NoError(t, err)
	r.ObserveTick(tickAt(start, 100))

	end := start.Add(5 * time.Minute)
	tr := r.Advance(end)
	require.Len(t, tr.Expired, 1)
	tr = r.Advance(end.Add(time.Second))
	assert.Empty(t, tr.Expired)

	res := r.ObserveTick(tickAt(end.Add(500*time.Millisecond), 99.9))
	require.Len(t, res.Ended, 1)
	winner, ok := res.Ended[0].Winner()
	require.True(t, ok)
	assert.Equal(t, domain.SideDown, winner)

	_, ok = r.ContractForToken(m.UpToken)
	assert.True(t, ok)

	tr = r.Advance(end.Add(5 * time.Minute))
	require.Len(t, tr.Evicted, 1)
	assert.False(t, r.Has(m.Slug))
	_, ok = r.ContractForToken(m.UpToken)
	assert.False(t, ok)
	assert.Empty(t, r.Tokens())
}

func TestWinner_TieGoesDown(t *testing.T) {
	c := domain.Contract{StartPrice: 100, StartPriceSet: true, EndPrice: 100, EndPriceSet: true}
	w, ok := c.Winner()
	require.True(t, ok)
	assert.Equal(t, domain.SideDown, w)
}

func TestAdmit_SkipsContractsPastEviction(t *testing.T) {
	r := newRegistry()
	_, added, err := r.Admit(meta(domain.Horizon5m, start), start.Add(11*time.Minute))
	require.NoError(t, err)
	assert.False(t, added)
}
