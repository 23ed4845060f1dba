package vision

import "math"

// NormalizeRadians wraps angle into [-π, π).
func NormalizeRadians(angle float64) float64 {
	return angle - 2*math.Pi*math.Floor((angle+math.Pi)/(2*math.Pi))
}

// PixelSize returns the rect's extent in pixels of an image of the given size.
func (r NormalizedRect) PixelSize(size ImageSize) (w, h float64) {
	return float64(r.Width) * float64(size.Width), float64(r.Height) * float64(size.Height)
}
