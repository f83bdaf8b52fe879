package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalCDF_KnownValues(t *testing.T) {
	assert.InDelta(t, 0.5, NormalCDF(0), 1e-12)
	assert.InDelta(t, 0.841345, NormalCDF(1), 1e-6)
	assert.InDelta(t, 0.024998, NormalCDF(-1.96), 1e-6)
}

// start=100, price=101, sigma1=0.3, 10s restantes.
func TestNormalModel_AbsoluteForm(t *testing.T) {
	m := NormalModel{Form: ZAbsolute}
	p, err := m.ProbUp(ProbabilityInput{D: 1, Price: 101, Sigma1: 0.3, SecsLeft: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.85408, p, 1e-4)

	ev := EV(p, 0.85, FeeCost(FeeLinear, 0.85, 10))
	assert.InDelta(t, 0.00323, ev, 1e-4)
}

func TestNormalModel_RelativeForm(t *testing.T) {
	m := NormalModel{Form: ZRelative}
	p, err := m.ProbUp(ProbabilityInput{D: 1, Price: 101, Sigma1: 0.3, SecsLeft: 10})
	require.NoError(t, err)
	// sigma1 leído como desviación de retornos: la distancia es despreciable
	assert.InDelta(t, 0.50416, p, 1e-4)
	assert.Less(t, EV(p, 0.85, FeeCost(FeeLinear, 0.85, 10)), 0.0)
}

func TestNormalModel_Symmetry(t *testing.T) {
	m := NormalModel{Form: ZAbsolute}
	up, err := m.ProbUp(ProbabilityInput{D: 2, Price: 100, Sigma1: 0.5, SecsLeft: 30})
	require.NoError(t, err)
	down, err := m.ProbUp(ProbabilityInput{D: -2, Price: 100, Sigma1: 0.5, SecsLeft: 30})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, up+down, 1e-12)
}

func TestNormalModel_ZeroSigmaIsInsufficientHistory(t *testing.T) {
	m := NormalModel{Form: ZAbsolute}
	_, err := m.ProbUp(ProbabilityInput{D: 1, Price: 100, Sigma1: 0, SecsLeft: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientHistory))
}

func TestNormalModel_UnknownForm(t *testing.T) {
	m := NormalModel{Form: "cubic"}
	_, err := m.ProbUp(ProbabilityInput{D: 1, Price: 100, Sigma1: 0.1, SecsLeft: 10})
	assert.Error(t, err)
}

func TestNormalModel_CalibratesZScore(t *testing.T) {
	m := NormalModel{
		Form:       ZAbsolute,
		Input:      CalibrateZScore,
		Calibrator: LogisticCalibrator{Coef: 1.7, Intercept: 0},
	}
	p, err := m.ProbUp(ProbabilityInput{D: 0, Price: 100, Sigma1: 0.1, SecsLeft: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-12)
}

// con intercept != 0 la calibración no es simétrica: down = 1 - cal(up), no cal(-z)
func TestNormalModel_CalibratedDownIsComplementOfUp(t *testing.T) {
	cal := LogisticCalibrator{Coef: 1.7, Intercept: 0.5}
	for _, input := range []CalibrationInput{CalibrateZScore, CalibratePHat} {
		m := NormalModel{Form: ZAbsolute, Input: input, Calibrator: cal}
		up, err := m.ProbUp(ProbabilityInput{D: 0, Price: 100, Sigma1: 0.1, SecsLeft: 10})
		require.NoError(t, err)

		raw := 0.0 // z
		if input == CalibratePHat {
			raw = 0.5 // Φ(0)
		}
		assert.InDelta(t, cal.Calibrate(raw), up, 1e-12, input)
	}

	zs := NormalModel{Form: ZAbsolute, Input: CalibrateZScore, Calibrator: cal}
	up, err := zs.ProbUp(ProbabilityInput{D: 0, Price: 100, Sigma1: 0.1, SecsLeft: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.6225, up, 1e-4)
	assert.InDelta(t, 0.3775, 1-up, 1e-4)
}

func TestIsotonicCalibrator_MonotonicAndClamped(t *testing.T) {
	c, err := NewIsotonicCalibrator(
		[]float64{0.9, 0.1, 0.5, 0.7},
		[]float64{1.2, 0.05, 0.6, 0.4},
	)
	require.NoError(t, err)

	prev := -1.0
	for v := 0.0; v <= 1.0; v += 0.05 {
		got := c.Calibrate(v)
		assert.GreaterOrEqual(t, got, prev)
		assert.LessOrEqual(t, got, 1.0)
		prev = got
	}
	assert.InDelta(t, 0.05, c.Calibrate(0), 1e-12)
	assert.InDelta(t, 1.0, c.Calibrate(1), 1e-12)
	// entre 0.1 (0.05) y 0.5 (0.6)
	assert.InDelta(t, 0.325, c.Calibrate(0.3), 1e-9)
}

func TestIsotonicCalibrator_RequiresPoints(t *testing.T) {
	_, err := NewIsotonicCalibrator([]float64{0.5}, []float64{0.5})
	assert.Error(t, err)
	_, err = NewIsotonicCalibrator([]float64{0.1, 0.2}, []float64{0.5})
	assert.Error(t, err)
}

func TestIdentityCalibrator_Clamps(t *testing.T) {
	assert.Equal(t, 1.0, IdentityCalibrator{}.Calibrate(1.3))
	assert.Equal(t, 0.0, IdentityCalibrator{}.Calibrate(-0.1))
	assert.Equal(t, 0.42, IdentityCalibrator{}.Calibrate(0.42))
}
