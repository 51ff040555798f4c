// Package radar holds the polar radar scan model and the radar half of
// the calibration pipeline: decoding, azimuth upsampling, range cropping,
// target detection and the polar to cartesian remap.
package radar

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
)

// ErrMalformedScan is returned when a scan file does not follow the
// polar layout.
var ErrMalformedScan = errors.New("radar: malformed scan")

// Scan is one full radar revolution. Power has one row per azimuth and
// one column per range bin, with values in [0, 1].
type Scan struct {
	Timestamps []int64
	Azimuths   []float64
	Encoders   []uint16
	Valid      []bool
	Power      *mat.Dense
}

// Rows returns the number of azimuths in the scan.
func (s *Scan) Rows() int {
	if s == nil || s.Power == nil {
		return 0
	}
	r, _ := s.Power.Dims()
	return r
}

// RangeBins returns the number of range bins per azimuth.
func (s *Scan) RangeBins() int {
	if s == nil || s.Power == nil {
		return 0
	}
	_, c := s.Power.Dims()
	return c
}

// UpsampleAzimuths interpolates the scan to rows·factor azimuths sampled
// at fractional row positions j/factor. Power columns use natural cubic
// splines along the azimuth axis, azimuths use piecewise-linear
// interpolation; positions past the last row clamp to it. Per-row
// metadata other than azimuths is repeated from the nearest earlier row.
// A factor of 1 or less returns the scan unchanged.
func UpsampleAzimuths(s *Scan, factor int) (*Scan, error) {
	if factor <= 1 {
		return s, nil
	}
	rows, cols := s.Rows(), s.RangeBins()
	if rows == 0 {
		return nil, fmt.Errorf("%w: no azimuths to upsample", ErrMalformedScan)
	}
	if len(s.Azimuths) != rows {
		return nil, fmt.Errorf("%w: %d azimuths for %d rows", ErrMalformedScan, len(s.Azimuths), rows)
	}

	n := rows * factor
	xs := make([]float64, rows)
	for i := range xs {
		xs[i] = float64(i)
	}
	last := float64(rows - 1)
	at := func(j int) float64 {
		x := float64(j) / float64(factor)
		if x > last {
			return last
		}
		return x
	}

	out := &Scan{
		Timestamps: make([]int64, 0, n),
		Azimuths:   make([]float64, n),
		Encoders:   make([]uint16, 0, n),
		Valid:      make([]bool, 0, n),
		Power:      mat.NewDense(n, cols, nil),
	}

	if rows == 1 {
		for j := 0; j < n; j++ {
			out.Azimuths[j] = s.Azimuths[0]
			out.Power.SetRow(j, s.Power.RawRowView(0))
		}
	} else {
		var az interp.PiecewiseLinear
		if err := az.Fit(xs, s.Azimuths); err != nil {
			return nil, fmt.Errorf("fit azimuths: %w", err)
		}
		for j := 0; j < n; j++ {
			out.Azimuths[j] = az.Predict(at(j))
		}

		col := make([]float64, rows)
		for c := 0; c < cols; c++ {
			mat.Col(col, c, s.Power)
			pred, err := columnPredictor(xs, col)
			if err != nil {
				return nil, fmt.Errorf("fit range bin %d: %w", c, err)
			}
			for j := 0; j < n; j++ {
				out.Power.Set(j, c, pred.Predict(at(j)))
			}
		}
	}

	for j := 0; j < n; j++ {
		src := j / factor
		if src < len(s.Timestamps) {
			out.Timestamps = append(out.Timestamps, s.Timestamps[src])
		}
		if src < len(s.Encoders) {
			out.Encoders = append(out.Encoders, s.Encoders[src])
		}
		if src < len(s.Valid) {
			out.Valid = append(out.Valid, s.Valid[src])
		}
	}
	return out, nil
}

// columnPredictor fits a natural cubic spline, or a linear one when there
// are too few knots for a cubic.
func columnPredictor(xs, ys []float64) (interp.Predictor, error) {
	if len(xs) < 3 {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, err
		}
		return &pl, nil
	}
	var nc interp.NaturalCubic
	if err := nc.Fit(xs, ys); err != nil {
		return nil, err
	}
	return &nc, nil
}

// CropRange keeps the first min(RangeBins, maxBins) range bins.
func CropRange(s *Scan, maxBins int) *Scan {
	cols := s.RangeBins()
	if maxBins >= cols || maxBins <= 0 {
		return s
	}
	rows := s.Rows()
	out := *s
	out.Power = mat.DenseCopyOf(s.Power.Slice(0, rows, 0, maxBins))
	return &out
}
