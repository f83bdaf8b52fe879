package ticks_test

import (
	"math"
	"testing"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/application/ticks"
	"github.com/alejandrodnm/hammerbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sym = "BTC/USD"

var t0 = time.Unix(1_700_000_000, 0).UTC()

func tick(sec int, price float64) domain.PriceTick {
	return domain.PriceTick{Symbol: sym, Timestamp: t0.Add(time.Duration(sec) * time.Second), Price: price, Source: domain.FeedPrimary}
}

func sampleStd(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func TestBuffer_MatchesClosedForm(t *testing.T) {
	b := ticks.New()
	prices := make([]float64, 0, 120)
	for i := 0; i < 120; i++ {
		p := 100 + 0.5*math.Sin(float64(i)/7) + float64(i%3)*0.01
		prices = append(prices, p)
		require.NoError(t, b.Ingest(tick(i, p)))
	}

	window := prices[len(prices)-61:]
	returns := make([]float64, 0, 60)
	diffs := make([]float64, 0, 60)
	for i := 1; i < len(window); i++ {
		returns = append(returns, window[i]/window[i-1]-1)
		diffs = append(diffs, window[i]-window[i-1])
	}

	ret, err := b.WatchReturn(sym)
	require.NoError(t, err)
	assert.InDelta(t, (window[60]-window[0])/window[0], ret, 1e-12)

	sigma, err := b.RealizedSigma1(sym)
	require.NoError(t, err)
	assert.InDelta(t, sampleStd(returns), sigma, 1e-12)

	psigma, err := b.PriceSigma1(sym)
	require.NoError(t, err)
	assert.InDelta(t, sampleStd(diffs), psigma, 1e-12)

	assert.LessOrEqual(t, b.Len(sym), 61)
}

func TestBuffer_InsufficientHistory(t *testing.T) {
	b := ticks.New()
	_, err := b.WatchReturn(sym)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)

	for i := 0; i < 60; i++ {
		require.NoError(t, b.Ingest(tick(i, 100)))
	}
	_, err = b.RealizedSigma1(sym)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)

	require.NoError(t, b.Ingest(tick(60, 100)))
	_, err = b.RealizedSigma1(sym)
	assert.NoError(t, err)
}

func TestBuffer_RejectsInvalidTicks(t *testing.T) {
	b := ticks.New()
	for _, p := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		err := b.Ingest(tick(0, p))
		assert.ErrorIs(t, err, domain.ErrStaleOrInvalidTick)
	}
	assert.Equal(t, 0, b.Len(sym))
}

func TestBuffer_RejectsBelowFloorWithoutMutation(t *testing.T) {
	b := ticks.New()
	for i := 0; i <= 100; i++ {
		require.NoError(t, b.Ingest(tick(i, 100+float64(i)/100)))
	}
	before, err := b.WatchReturn(sym)
	require.NoError(t, err)
	n := b.Len(sym)

	err = b.Ingest(tick(39, 50))
	assert.ErrorIs(t, err, domain.ErrStaleOrInvalidTick)

	after, err := b.WatchReturn(sym)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, n, b.Len(sym))
}

func TestBuffer_SameSecondLastWriteWins(t *testing.T) {
	b := ticks.New()
	require.NoError(t, b.Ingest(tick(0, 100)))
	require.NoError(t, b.Ingest(domain.PriceTick{Symbol: sym, Timestamp: t0.Add(400 * time.Millisecond), Price: 101}))
	p, _, ok := b.LastPrice(sym)
	require.True(t, ok)
	assert.Equal(t, 101.0, p)
	assert.Equal(t, 1, b.Len(sym))
}

func TestBuffer_OutOfOrderInsertKeepsOrdering(t *testing.T) {
	ordered := ticks.New()
	shuffled := ticks.New()
	for i := 0; i <= 70; i++ {
		require.NoError(t, ordered.Ingest(tick(i, 100+float64(i%5))))
	}
	for i := 0; i <= 70; i += 2 {
		require.NoError(t, shuffled.Ingest(tick(i, 100+float64(i%5))))
	}
	for i := 69; i > 10; i -= 2 {
		require.NoError(t, shuffled.Ingest(tick(i, 100+float64(i%5))))
	}

	a, err := ordered.RealizedSigma1(sym)
	require.NoError(t, err)
	c, err := shuffled.RealizedSigma1(sym)
	require.NoError(t, err)
	assert.InDelta(t, a, c, 1e-15)

	p, _, _ := shuffled.LastPrice(sym)
	assert.Equal(t, 100.0, p) // 70 % 5 == 0
}

func TestBuffer_CarriesForwardGaps(t *testing.T) {
	b := ticks.New()
	require.NoError(t, b.Ingest(tick(0, 100)))
	require.NoError(t, b.Ingest(tick(30, 102)))
	require.NoError(t, b.Ingest(tick(60, 101)))

	ret, err := b.WatchReturn(sym)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, ret, 1e-12)

	// el ancla (sec 0) sigue ahí aunque el sample de sec 30 sea el único dentro
	require.NoError(t, b.Ingest(tick(75, 101)))
	ret, err = b.WatchReturn(sym)
	require.NoError(t, err)
	assert.InDelta(t, 101.0/100-1, ret, 1e-12)
}

// Precio plano 60s y luego rampa de 0.01/s: el trigger salta en el primer tick con retorno >= 0.5%.
func TestBuffer_WatchTriggerFiresOnFirstCrossing(t *testing.T) {
	b := ticks.New()
	for i := 0; i <= 60; i++ {
		require.NoError(t, b.Ingest(tick(i, 100)))
	}

	fired := -1
	for k := 1; k <= 60; k++ {
		require.NoError(t, b.Ingest(tick(60+k, 100+float64(k)/100)))
		ok, _, err := b.Triggered(sym, 0.005)
		require.NoError(t, err)
		if ok {
			fired = k
			break
		}
	}
	assert.Equal(t, 50, fired)
}

// 100.00 → 100.60 en 60 segundos: el primer retorno calculable ya cruza el umbral.
func TestBuffer_WatchTriggerSixtySecondRamp(t *testing.T) {
	b := ticks.New()
	for k := 0; k < 60; k++ {
		require.NoError(t, b.Ingest(tick(k, 100+float64(k)/100)))
		_, _, err := b.Triggered(sym, 0.005)
		require.ErrorIs(t, err, domain.ErrInsufficientHistory)
	}
	require.NoError(t, b.Ingest(tick(60, 100.60)))
	ok, ret, err := b.Triggered(sym, 0.005)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.006, ret, 1e-9)
}
