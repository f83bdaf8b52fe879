package domain

import (
	"fmt"
	"math"
)

// FeeModel selecciona la fórmula de coste de fee por share.
type FeeModel string

const (
	// FeeLinear: ask * bps / 10000.
	FeeLinear FeeModel = "linear"
	// FeeCurve: bps/10000 * min(ask, 1-ask), la fórmula de mercados con fee del CLOB.
	FeeCurve FeeModel = "curve"
)

// FeeCost devuelve el coste de fee por share, en las mismas unidades que el precio.
func FeeCost(model FeeModel, ask, bps float64) float64 {
	if bps <= 0 || ask <= 0 {
		return 0
	}
	rate := bps / 10_000
	if model == FeeCurve {
		return rate * math.Min(ask, 1-ask)
	}
	return ask * rate
}

// ParseFeeModel valida el nombre de un modelo de fee.
func ParseFeeModel(s string) (FeeModel, error) {
	switch FeeModel(s) {
	case FeeLinear, "":
		return FeeLinear, nil
	case FeeCurve:
		return FeeCurve, nil
	}
	return "", fmt.Errorf("domain.ParseFeeModel: unknown fee model %q", s)
}

// EV devuelve el valor esperado por share de comprar a ask con probabilidad p de ganar.
func EV(p, ask, feeCost float64) float64 {
	return p - ask - feeCost
}
