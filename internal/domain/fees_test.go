package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeCost_Linear(t *testing.T) {
	assert.InDelta(t, 0.00085, FeeCost(FeeLinear, 0.85, 10), 1e-12)
	assert.Equal(t, 0.0, FeeCost(FeeLinear, 0.85, 0))
}

func TestFeeCost_CurveUsesMinSide(t *testing.T) {
	// 100 bps, ask 0.85 → 0.01 * 0.15
	assert.InDelta(t, 0.0015, FeeCost(FeeCurve, 0.85, 100), 1e-12)
	assert.InDelta(t, 0.0015, FeeCost(FeeCurve, 0.15, 100), 1e-12)
}

func TestParseFeeModel(t *testing.T) {
	m, err := ParseFeeModel("")
	require.NoError(t, err)
	assert.Equal(t, FeeLinear, m)

	m, err = ParseFeeModel("curve")
	require.NoError(t, err)
	assert.Equal(t, FeeCurve, m)

	_, err = ParseFeeModel("flat")
	assert.Error(t, err)
}

func TestRoundPriceToTick(t *testing.T) {
	got, err := RoundPriceToTick(0.8579, 0.001)
	require.NoError(t, err)
	assert.InDelta(t, 0.857, got, 1e-12)

	got, err = RoundPriceToTick(0.3, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got, 1e-12)

	_, err = RoundPriceToTick(0.5, 0)
	assert.Error(t, err)
}

func TestSizeForBudget(t *testing.T) {
	limit, size, err := SizeForBudget(20, 0.85, DefaultTickSize, DefaultSizeStep)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, limit, 1e-12)
	// 20 / 0.85 = 23.529 → 23.5
	assert.InDelta(t, 23.5, size, 1e-12)
	assert.LessOrEqual(t, limit*size, 20.0)
}

func TestSizeForBudget_InvalidPrice(t *testing.T) {
	_, _, err := SizeForBudget(20, 0, DefaultTickSize, DefaultSizeStep)
	assert.Error(t, err)
	_, _, err = SizeForBudget(20, 0.0004, DefaultTickSize, DefaultSizeStep)
	assert.Error(t, err)
}
