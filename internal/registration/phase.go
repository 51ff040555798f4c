// Package registration estimates the circular shift between two equal
// shape occupancy images by phase correlation (Fourier-Mellin
// registration), and converts the shift into a yaw rotation or a metric
// translation.
package registration

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/occupancy"
)

var (
	// ErrShapeMismatch is returned when the two images differ in shape.
	ErrShapeMismatch = errors.New("registration: image shapes differ")

	// ErrDegenerate is returned when the correlation has no usable peak:
	// one of the images is empty or the surface is flat.
	ErrDegenerate = errors.New("registration: degenerate frame")
)

// spectrumFloor is the magnitude, relative to the strongest cross-power
// bin, below which a bin is treated as zero instead of being normalised.
const spectrumFloor = 1e-9

// Peak is the location and height of the correlation maximum.
type Peak struct {
	Row, Col int
	// Value is the correlation height at the peak, in (0, 1]. A value near
	// 1 means a sharp, unambiguous match.
	Value float64
	// Surface is the full correlation surface, |IFFT(P)|.
	Surface *mat.Dense
}

// PhaseCorrelate returns the circular shift (Row, Col) that best maps a
// onto b: for b = a rolled by (s_r, s_c), the peak sits at (s_r, s_c).
//
// The cross-power spectrum is P = F_b·conj(F_a) / |F_b·conj(F_a)|; bins
// with negligible magnitude contribute zero. Ties resolve to the first
// maximum in row-major order.
func PhaseCorrelate(a, b mat.Matrix) (Peak, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || ca != cb {
		return Peak{}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, ra, ca, rb, cb)
	}
	if occupancy.IsEmpty(a) || occupancy.IsEmpty(b) {
		return Peak{}, fmt.Errorf("%w: empty image", ErrDegenerate)
	}

	rows, cols := ra, ca
	fa := toComplex(a)
	fb := toComplex(b)
	f := newFFT2(rows, cols)
	f.forward(fa)
	f.forward(fb)

	// fb becomes the cross-power spectrum.
	maxMag := 0.0
	for i := range fb {
		fb[i] *= cmplx.Conj(fa[i])
		if m := cmplx.Abs(fb[i]); m > maxMag {
			maxMag = m
		}
	}
	floor := maxMag * spectrumFloor
	for i, v := range fb {
		m := cmplx.Abs(v)
		if m <= floor {
			fb[i] = 0
			continue
		}
		fb[i] = v / complex(m, 0)
	}

	f.inverse(fb)

	surface := mat.NewDense(rows, cols, nil)
	best, bestIdx := math.Inf(-1), 0
	lowest := math.Inf(1)
	for i, v := range fb {
		m := cmplx.Abs(v)
		surface.Set(i/cols, i%cols, m)
		if m > best {
			best, bestIdx = m, i
		}
		if m < lowest {
			lowest = m
		}
	}
	if best-lowest <= 1e-12 {
		return Peak{}, fmt.Errorf("%w: flat correlation surface", ErrDegenerate)
	}

	return Peak{
		Row:     bestIdx / cols,
		Col:     bestIdx % cols,
		Value:   best,
		Surface: surface,
	}, nil
}

func toComplex(m mat.Matrix) []complex128 {
	r, c := m.Dims()
	out := make([]complex128, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[i*c+j] = complex(m.At(i, j), 0)
		}
	}
	return out
}

// fft2 runs separable 2-D transforms on row-major rows×cols buffers:
// rows first, then columns.
type fft2 struct {
	rows, cols int
	rowFFT     *fourier.CmplxFFT
	colFFT     *fourier.CmplxFFT
	row, col   []complex128
}

func newFFT2(rows, cols int) *fft2 {
	return &fft2{
		rows:   rows,
		cols:   cols,
		rowFFT: fourier.NewCmplxFFT(cols),
		colFFT: fourier.NewCmplxFFT(rows),
		row:    make([]complex128, cols),
		col:    make([]complex128, rows),
	}
}

func (f *fft2) forward(a []complex128) { f.transform(a, true) }

// inverse applies the inverse transform including the 1/(rows·cols)
// normalisation that gonum leaves to the caller.
func (f *fft2) inverse(a []complex128) {
	f.transform(a, false)
	scale := complex(1/float64(f.rows*f.cols), 0)
	for i := range a {
		a[i] *= scale
	}
}

func (f *fft2) transform(a []complex128, forward bool) {
	for y := 0; y < f.rows; y++ {
		copy(f.row, a[y*f.cols:(y+1)*f.cols])
		if forward {
			f.rowFFT.Coefficients(f.row, f.row)
		} else {
			f.rowFFT.Sequence(f.row, f.row)
		}
		copy(a[y*f.cols:(y+1)*f.cols], f.row)
	}

	for x := 0; x < f.cols; x++ {
		for y := 0; y < f.rows; y++ {
			f.col[y] = a[y*f.cols+x]
		}
		if forward {
			f.colFFT.Coefficients(f.col, f.col)
		} else {
			f.colFFT.Sequence(f.col, f.col)
		}
		for y := 0; y < f.rows; y++ {
			a[y*f.cols+x] = f.col[y]
		}
	}
}
