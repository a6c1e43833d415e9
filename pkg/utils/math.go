package utils

import "math"

// Clamp01 returns v limited to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MaxFloat returns the larger of a and b.
func MaxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
