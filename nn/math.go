package nn

import "github.com/chewxy/math32"

func sqrt32(x float32) float32 { return math32.Sqrt(x) }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
