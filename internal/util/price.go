// Package util provides common utility functions for price and amount
// calculations.
package util

import "github.com/shopspring/decimal"

// RoundToStep rounds x to the nearest step increment.
// For example, with step=0.01, 1.2345 becomes 1.23.
func RoundToStep(x, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return x
	}
	return x.Div(step).Round(0).Mul(step)
}

// FloorToStep rounds x down to the step increment. Used for exit amounts so
// a reversing trade never exceeds the entry size.
func FloorToStep(x, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return x
	}
	return x.Div(step).Floor().Mul(step)
}
