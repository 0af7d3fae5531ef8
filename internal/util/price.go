// Package util provides common helpers for price and exposure rounding.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 and 1.236 becomes 1.24.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Round(x/tick) * tick
}

// RoundToCents rounds a dollar amount to whole cents for display.
func RoundToCents(x float64) float64 {
	return RoundToTick(x, 0.01)
}
