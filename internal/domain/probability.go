package domain

import (
	"fmt"
	"math"
	"sort"
)

// NormalCDF es la función de distribución acumulada de la normal estándar.
func NormalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// ZForm selecciona cómo se escala la distancia d a un z-score.
type ZForm string

const (
	// ZRelative: (d / price) / (sigma1 * sqrt(T)); sigma1 es la desviación de retornos simples.
	ZRelative ZForm = "relative"
	// ZAbsolute: d / (sigma1 * sqrt(T)); sigma1 en unidades de precio.
	ZAbsolute ZForm = "absolute"
)

// CalibrationInput indica sobre qué valor actúa el calibrador.
type CalibrationInput string

const (
	CalibratePHat   CalibrationInput = "p_hat"
	CalibrateZScore CalibrationInput = "z_score"
)

// ProbabilityInput agrupa lo que el modelo necesita para estimar P(up).
type ProbabilityInput struct {
	D        float64 // precio actual - start_price
	Price    float64 // precio actual
	Sigma1   float64
	SecsLeft float64
}

// ProbabilityModel estima P(up). Debe ser puro e intercambiable.
type ProbabilityModel interface {
	ProbUp(in ProbabilityInput) (float64, error)
}

// Calibrator ajusta una probabilidad (o un z-score) a una probabilidad calibrada.
// Solo se calibra el lado up; el down es siempre su complemento.
type Calibrator interface {
	Calibrate(v float64) float64
}

// NormalModel es el modelo por defecto: Φ(z) con z según Form, pasado por Calibrator.
type NormalModel struct {
	Form       ZForm
	Input      CalibrationInput
	Calibrator Calibrator
}

// ZScore calcula el z-score según la forma configurada.
func (m NormalModel) ZScore(in ProbabilityInput) (float64, error) {
	if in.Sigma1 <= 0 || math.IsNaN(in.Sigma1) {
		return 0, fmt.Errorf("domain.ZScore: sigma1 %.6g: %w", in.Sigma1, ErrInsufficientHistory)
	}
	if in.SecsLeft <= 0 {
		return 0, fmt.Errorf("domain.ZScore: no time left")
	}
	scale := in.Sigma1 * math.Sqrt(in.SecsLeft)
	switch m.Form {
	case ZAbsolute:
		return in.D / scale, nil
	case ZRelative, "":
		if in.Price <= 0 {
			return 0, fmt.Errorf("domain.ZScore: price %.6g: %w", in.Price, ErrStaleOrInvalidTick)
		}
		return (in.D / in.Price) / scale, nil
	}
	return 0, fmt.Errorf("domain.ZScore: unknown z form %q", m.Form)
}

// ProbUp implementa ProbabilityModel.
func (m NormalModel) ProbUp(in ProbabilityInput) (float64, error) {
	z, err := m.ZScore(in)
	if err != nil {
		return 0, err
	}
	cal := m.Calibrator
	if cal == nil {
		cal = IdentityCalibrator{}
	}
	var p float64
	if m.Input == CalibrateZScore {
		p = cal.Calibrate(z)
	} else {
		p = cal.Calibrate(NormalCDF(z))
	}
	return clamp01(p), nil
}

// IdentityCalibrator devuelve el valor recortado a [0, 1].
type IdentityCalibrator struct{}

func (IdentityCalibrator) Calibrate(v float64) float64 { return clamp01(v) }

// LogisticCalibrator aplica 1 / (1 + exp(-(coef*v + intercept))).
type LogisticCalibrator struct {
	Coef      float64
	Intercept float64
}

func (c LogisticCalibrator) Calibrate(v float64) float64 {
	return 1 / (1 + math.Exp(-(c.Coef*v + c.Intercept)))
}

// IsotonicCalibrator interpola linealmente una curva monótona no decreciente.
type IsotonicCalibrator struct {
	x []float64
	y []float64
}

// NewIsotonicCalibrator ordena los puntos por x y fuerza y monótono en [0, 1].
func NewIsotonicCalibrator(x, y []float64) (*IsotonicCalibrator, error) {
	if len(x) != len(y) || len(x) < 2 {
		return nil, fmt.Errorf("domain.NewIsotonicCalibrator: need >=2 matching x/y points, got %d/%d", len(x), len(y))
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	c := &IsotonicCalibrator{x: make([]float64, len(x)), y: make([]float64, len(y))}
	running := 0.0
	for i, j := range idx {
		c.x[i] = x[j]
		running = math.Max(running, y[j])
		c.y[i] = clamp01(running)
	}
	return c, nil
}

func (c *IsotonicCalibrator) Calibrate(v float64) float64 {
	n := len(c.x)
	if v <= c.x[0] {
		return c.y[0]
	}
	if v >= c.x[n-1] {
		return c.y[n-1]
	}
	i := sort.SearchFloat64s(c.x, v)
	x0, x1 := c.x[i-1], c.x[i]
	y0, y1 := c.y[i-1], c.y[i]
	if x1-x0 <= 0 {
		return y1
	}
	w := (v - x0) / (x1 - x0)
	return y0 + w*(y1-y0)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
