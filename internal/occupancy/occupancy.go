// Package occupancy holds helpers for the binary occupancy images shared by
// the radar and lidar rasterizers. Images are *mat.Dense with cells set to
// Occupied or 0.
package occupancy

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Occupied is the intensity written for a cell holding a detection.
const Occupied = 255.0

// New returns an all-zero rows×cols image.
func New(rows, cols int) *mat.Dense {
	return mat.NewDense(rows, cols, nil)
}

// MinRange is the metric distance from the image centre to the centre of
// the first pixel, so that a pixelWidth-wide grid at resolution is centred
// on the sensor.
func MinRange(pixelWidth int, resolution float64) float64 {
	if pixelWidth%2 == 0 {
		return (float64(pixelWidth)/2 - 0.5) * resolution
	}
	return float64(pixelWidth/2) * resolution
}

// Binarize returns a copy of m with every positive cell set to Occupied
// and everything else to zero.
func Binarize(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) > 0 {
				out.Set(i, j, Occupied)
			}
		}
	}
	return out
}

// Count returns the number of non-zero cells.
func Count(m mat.Matrix) int {
	r, c := m.Dims()
	n := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != 0 {
				n++
			}
		}
	}
	return n
}

// IsEmpty reports whether m has no non-zero cell.
func IsEmpty(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

// CircularShift returns m rolled by dr rows and dc columns with wraparound:
// out[(i+dr) mod R][(j+dc) mod C] = m[i][j].
func CircularShift(m mat.Matrix, dr, dc int) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		ii := mod(i+dr, r)
		for j := 0; j < c; j++ {
			out.Set(ii, mod(j+dc, c), m.At(i, j))
		}
	}
	return out
}

// FlipRows returns m with its row order reversed.
func FlipRows(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(r-1-i, j, m.At(i, j))
		}
	}
	return out
}

// BinIndex converts a metric offset into a bin index, reporting false when
// the bin falls outside the open interval (0, n). NaN never fits.
func BinIndex(v float64, n int) (int, bool) {
	f := math.Floor(v)
	if !(f > 0 && f < float64(n)) {
		return 0, false
	}
	return int(f), true
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
