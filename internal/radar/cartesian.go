package radar

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/occupancy"
)

// Remapper resamples a polar image (azimuth × range) onto a square
// cartesian grid centred on the sensor.
type Remapper interface {
	Remap(azimuths []float64, polar mat.Matrix, radarResolution, cartResolution float64, pixelWidth int) (*mat.Dense, error)
}

// PolarRemapper samples the polar image bilinearly. Row i of the output
// is x = -c[i] and column j is y = c[j], with c spanning ±MinRange; the
// azimuth spacing is taken from the first two azimuths and the image
// wraps across the first and last azimuth. Samples outside the polar
// image read as zero.
type PolarRemapper struct{}

// Remap implements Remapper.
func (PolarRemapper) Remap(azimuths []float64, polar mat.Matrix, radarResolution, cartResolution float64, pixelWidth int) (*mat.Dense, error) {
	rows, cols := polar.Dims()
	if rows < 2 || len(azimuths) < 2 {
		return nil, fmt.Errorf("%w: need at least two azimuths, got %d rows and %d azimuths", ErrMalformedScan, rows, len(azimuths))
	}
	if len(azimuths) != rows {
		return nil, fmt.Errorf("%w: %d azimuths for %d rows", ErrMalformedScan, len(azimuths), rows)
	}
	if pixelWidth <= 0 || cartResolution <= 0 || radarResolution <= 0 {
		return nil, fmt.Errorf("invalid cartesian geometry: width %d, resolution %g, radar resolution %g", pixelWidth, cartResolution, radarResolution)
	}
	az0 := azimuths[0]
	step := azimuths[1] - az0
	if step == 0 {
		return nil, fmt.Errorf("%w: zero azimuth step", ErrMalformedScan)
	}

	minRange := occupancy.MinRange(pixelWidth, cartResolution)
	coords := make([]float64, pixelWidth)
	for i := range coords {
		if pixelWidth == 1 {
			coords[i] = -minRange
			break
		}
		coords[i] = -minRange + 2*minRange*float64(i)/float64(pixelWidth-1)
	}

	// Rows 0 and rows+1 repeat the last and first azimuth.
	padded := func(r, c int) float64 {
		if c < 0 || c >= cols || r < 0 || r > rows+1 {
			return 0
		}
		switch r {
		case 0:
			return polar.At(rows-1, c)
		case rows + 1:
			return polar.At(0, c)
		default:
			return polar.At(r-1, c)
		}
	}

	out := mat.NewDense(pixelWidth, pixelWidth, nil)
	for i := 0; i < pixelWidth; i++ {
		x := -coords[i]
		for j := 0; j < pixelWidth; j++ {
			y := coords[j]
			rng := math.Hypot(x, y)
			angle := math.Atan2(y, x)
			if angle < 0 {
				angle += 2 * math.Pi
			}
			u := (rng - radarResolution/2) / radarResolution
			if u < 0 {
				u = 0
			}
			v := (angle-az0)/step + 1
			out.Set(i, j, bilinear(padded, v, u))
		}
	}
	return out, nil
}

// bilinear samples at fractional (row, col).
func bilinear(at func(r, c int) float64, row, col float64) float64 {
	r0 := int(math.Floor(row))
	c0 := int(math.Floor(col))
	fr := row - float64(r0)
	fc := col - float64(c0)
	return at(r0, c0)*(1-fr)*(1-fc) +
		at(r0, c0+1)*(1-fr)*fc +
		at(r0+1, c0)*fr*(1-fc) +
		at(r0+1, c0+1)*fr*fc
}
