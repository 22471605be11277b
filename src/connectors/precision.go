package connectors

import (
	"github.com/shopspring/decimal"
)

// FloorToStep truncates qty down to a multiple of step.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	f, _ := q.Div(s).Floor().Mul(s).Float64()
	return f
}

// RoundToTick rounds price to the nearest tick.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	f, _ := p.Div(t).Round(0).Mul(t).Float64()
	return f
}

// RoundAwayFromEntry rounds a take-profit price to the tick, moving it further
// from the entry so the fee-inclusive target is never undershot.
func RoundAwayFromEntry(price, tick float64, long bool) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	steps := p.Div(t)
	if long {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	f, _ := steps.Mul(t).Float64()
	return f
}

// ContractsFor converts base units to whole contracts, rounding down.
func ContractsFor(qty, contractSize float64) int64 {
	if contractSize <= 0 {
		return 0
	}
	return decimal.NewFromFloat(qty).Div(decimal.NewFromFloat(contractSize)).Floor().IntPart()
}

// RoundQuantity applies the rules to a base quantity: whole contracts when
// the market is contract based, otherwise the step size.
func (r *SymbolRules) RoundQuantity(qty float64) float64 {
	if r == nil {
		return qty
	}
	if r.ContractSize > 0 {
		n := ContractsFor(qty, r.ContractSize)
		f, _ := decimal.NewFromInt(n).Mul(decimal.NewFromFloat(r.ContractSize)).Float64()
		return f
	}
	return FloorToStep(qty, r.StepSize)
}

// CheckMinimum returns ErrBelowMinimum when qty at price cannot be traded.
func (r *SymbolRules) CheckMinimum(qty, price float64) error {
	if r == nil {
		return nil
	}
	if r.ContractSize > 0 && ContractsFor(qty, r.ContractSize) < 1 {
		return ErrBelowMinimum
	}
	rounded := r.RoundQuantity(qty)
	if rounded <= 0 || (r.MinQty > 0 && rounded < r.MinQty) {
		return ErrBelowMinimum
	}
	if r.MinNotional > 0 && rounded*price < r.MinNotional {
		return ErrBelowMinimum
	}
	return nil
}

func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}
