package lidar

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// YawRotation returns the 3×3 rotation about the vertical axis that takes
// lidar-frame column vectors into the radar frame:
//
//	[ cosθ  sinθ  0 ]
//	[ -sinθ cosθ  0 ]
//	[ 0     0     1 ]
//
// Apply it by left-multiplication. The sign layout is the lidar→radar
// convention; its transpose is the inverse.
func YawRotation(theta float64) *mat.Dense {
	s, c := math.Sincos(theta)
	return mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}
