package decision

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// CalibrationConfig selecciona y parametriza el calibrador de probabilidad.
type CalibrationConfig struct {
	Method            string // none | logistic | isotonic
	Input             domain.CalibrationInput
	ParamsPath        string
	LogisticCoef      float64
	LogisticIntercept float64
}

type calibrationParams struct {
	Coef      *float64  `json:"coef"`
	Intercept *float64  `json:"intercept"`
	X         []float64 `json:"x"`
	Y         []float64 `json:"y"`
}

// LoadCalibrator construye el calibrador. Si los parámetros faltan o son inválidos
// vuelve a identity y lo deja en el log.
func LoadCalibrator(cfg CalibrationConfig) domain.Calibrator {
	switch cfg.Method {
	case "", "none", "identity":
		return domain.IdentityCalibrator{}
	case "logistic":
		c := domain.LogisticCalibrator{Coef: cfg.LogisticCoef, Intercept: cfg.LogisticIntercept}
		if p, err := readParams(cfg.ParamsPath); err == nil && p != nil {
			if p.Coef != nil {
				c.Coef = *p.Coef
			}
			if p.Intercept != nil {
				c.Intercept = *p.Intercept
			}
		} else if err != nil {
			slog.Warn("calibration: cannot read params, using config coefficients", "path", cfg.ParamsPath, "err", err)
		}
		return c
	case "isotonic":
		p, err := readParams(cfg.ParamsPath)
		if err != nil || p == nil {
			slog.Warn("calibration: isotonic params unavailable, falling back to identity", "path", cfg.ParamsPath, "err", err)
			return domain.IdentityCalibrator{}
		}
		iso, err := domain.NewIsotonicCalibrator(p.X, p.Y)
		if err != nil {
			slog.Warn("calibration: invalid isotonic params, falling back to identity", "err", err)
			return domain.IdentityCalibrator{}
		}
		return iso
	}
	slog.Warn("calibration: unknown method, falling back to identity", "method", cfg.Method)
	return domain.IdentityCalibrator{}
}

// NewModel construye el modelo normal con su calibrador.
func NewModel(form domain.ZForm, cal CalibrationConfig) domain.NormalModel {
	input := cal.Input
	if input == "" {
		input = domain.CalibratePHat
	}
	return domain.NormalModel{Form: form, Input: input, Calibrator: LoadCalibrator(cal)}
}

func readParams(path string) (*calibrationParams, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("decision.readParams: read %q: %w", path, err)
	}
	var p calibrationParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decision.readParams: parse %q: %w", path, err)
	}
	return &p, nil
}
