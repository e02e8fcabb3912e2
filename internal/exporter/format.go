package exporter

import (
	"math"
	"strconv"
)

// formatFloat formats a value with exactly 2 decimal places. Non-finite values are empty.
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// formatRate formats a fraction in [0, 1] as a percentage with 2 decimals
func formatRate(f float64) string {
	return formatFloat(f * 100)
}

func formatInt(i int) string {
	return strconv.Itoa(i)
}
