package registration

import "math"

// Rotation converts a polar-image row shift into a yaw angle in radians.
// Angles past π are folded to 2π−θ, so the result lies in [0, π]. The
// fold discards the sign of the rotation; callers that need a signed yaw
// must recover it from the row index.
func Rotation(rowIdx int, azimuthStep float64) float64 {
	return FoldRotation(float64(rowIdx) * azimuthStep)
}

// FoldRotation maps θ > π to 2π−θ.
func FoldRotation(theta float64) float64 {
	if theta > math.Pi {
		return 2*math.Pi - theta
	}
	return theta
}

// UnwrapShift converts a circular peak index into a signed pixel shift:
// indices past width/2 wrap to negative values.
func UnwrapShift(idx, width int) int {
	if idx > width/2 {
		return idx - width
	}
	return idx
}

// Translation converts a cartesian peak into a metric (dx, dy): rows map
// to x and columns to y, both scaled by the pixel resolution.
func Translation(p Peak, width int, resolution float64) (dx, dy float64) {
	dx = float64(UnwrapShift(p.Row, width)) * resolution
	dy = float64(UnwrapShift(p.Col, width)) * resolution
	return dx, dy
}
