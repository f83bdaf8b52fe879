package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	DefaultTickSize = 0.001
	DefaultSizeStep = 0.1
)

// RoundPriceToTick redondea el precio hacia abajo al tick del mercado.
func RoundPriceToTick(price, tick float64) (float64, error) {
	return floorToStep(price, tick)
}

// RoundSizeToStep redondea el tamaño hacia abajo al step de shares.
func RoundSizeToStep(size, step float64) (float64, error) {
	return floorToStep(size, step)
}

// floorToStep usa decimal para evitar que 0.3/0.1 = 2.9999 pierda un step.
func floorToStep(v, step float64) (float64, error) {
	if step <= 0 {
		return 0, fmt.Errorf("domain.floorToStep: step must be > 0, got %v", step)
	}
	dv := decimal.NewFromFloat(v)
	ds := decimal.NewFromFloat(step)
	n := dv.Div(ds).Floor()
	out, _ := n.Mul(ds).Float64()
	return out, nil
}

// SizeForBudget calcula shares = budget/price, con price y size ya redondeados.
func SizeForBudget(budgetUSD, price, tick, step float64) (limit, size float64, err error) {
	if price <= 0 {
		return 0, 0, fmt.Errorf("domain.SizeForBudget: price must be > 0")
	}
	limit, err = RoundPriceToTick(price, tick)
	if err != nil {
		return 0, 0, err
	}
	if limit <= 0 {
		return 0, 0, fmt.Errorf("domain.SizeForBudget: price %.4f rounds to zero at tick %v", price, tick)
	}
	shares, _ := decimal.NewFromFloat(budgetUSD).Div(decimal.NewFromFloat(limit)).Float64()
	size, err = RoundSizeToStep(shares, step)
	if err != nil {
		return 0, 0, err
	}
	return limit, size, nil
}
