package coord

import "math"

const (
	// AbsTolerance is the floor of the tolerance band, in mm.
	AbsTolerance = 0.005

	// RelTolerance scales the band with coordinate magnitude.
	RelTolerance = 0.001
)

// Tolerance returns the equality band for values around mag.
func Tolerance(mag float64) float64 {
	return AbsTolerance + RelTolerance*math.Abs(mag)
}

// Within reports whether a and b are equal within Tolerance(mag).
func Within(a, b, mag float64) bool {
	return math.Abs(a-b) <= Tolerance(mag)
}
