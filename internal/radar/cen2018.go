package radar

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/radar-lidar-calib/internal/occupancy"
)

// Default Cen2018 parameters.
const (
	DefaultFeatureMinRange = 58
	DefaultFeatureZQ       = 3.0
	DefaultFeatureSigma    = 17
)

// gaussianTruncate is the kernel half-width in standard deviations.
const gaussianTruncate = 3.0

// Target is a detected return, indexed by azimuth row and range bin.
type Target struct {
	Azimuth int
	Range   int
}

// Detector extracts point targets from a polar power array.
type Detector interface {
	Detect(power mat.Matrix) ([]Target, error)
}

// Cen2018Detector is the probabilistic landmark extractor of Cen and
// Newman (ICRA 2018). Each azimuth is mean-subtracted and smoothed along
// range; the noise level is estimated from the negative residuals and
// bins whose combined signal exceeds ZQ·σ are grouped into contiguous
// runs, each reported by its centre bin. Runs whose centre is not beyond
// MinRange are ignored; a run reaching the end of the row still counts.
type Cen2018Detector struct {
	MinRange int
	ZQ       float64
	Sigma    float64
}

// NewCen2018Detector returns a detector with the given threshold and the
// default range gate and smoothing width.
func NewCen2018Detector(zq float64) *Cen2018Detector {
	return &Cen2018Detector{
		MinRange: DefaultFeatureMinRange,
		ZQ:       zq,
		Sigma:    DefaultFeatureSigma,
	}
}

// Detect returns targets in azimuth-major order.
func (d *Cen2018Detector) Detect(power mat.Matrix) ([]Target, error) {
	rows, cols := power.Dims()
	kernel := gaussianKernel(d.Sigma)

	var targets []Target
	q := make([]float64, cols)
	p := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(q, i, power)
		floats.AddConst(-stat.Mean(q, nil), q)
		smoothReflect(p, q, kernel)

		sigmaQ, ok := negativeNoise(q)
		if !ok {
			continue
		}
		nzero := normPDF(0, sigmaQ)
		thresh := d.ZQ * sigmaQ

		var run []int
		for j := 0; j < cols; j++ {
			nqp := normPDF(q[j]-p[j], sigmaQ)
			npp := normPDF(p[j], sigmaQ)
			y := q[j]*(1-nqp/nzero) + p[j]*(nqp-npp)/nzero
			if y > thresh {
				run = append(run, j)
				continue
			}
			targets = d.appendRun(targets, i, run)
			run = run[:0]
		}
		targets = d.appendRun(targets, i, run)
	}
	return targets, nil
}

// appendRun reports a run by its centre bin when that bin lies beyond
// MinRange.
func (d *Cen2018Detector) appendRun(targets []Target, azimuth int, run []int) []Target {
	if len(run) == 0 {
		return targets
	}
	if mid := run[len(run)/2]; mid > d.MinRange {
		targets = append(targets, Target{Azimuth: azimuth, Range: mid})
	}
	return targets
}

// negativeNoise is the RMS of the negative residuals. It reports false
// when the row has none.
func negativeNoise(q []float64) (float64, bool) {
	var sum float64
	n := 0
	for _, v := range q {
		if v < 0 {
			sum += v * v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	s := math.Sqrt(sum / float64(n))
	return s, s > 0
}

func normPDF(x, sigma float64) float64 {
	return math.Exp(-0.5*(x/sigma)*(x/sigma)) / (sigma * math.Sqrt(2*math.Pi))
}

// gaussianKernel returns normalised weights for offsets -r..r with
// r = int(truncate·σ + 0.5).
func gaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	r := int(gaussianTruncate*sigma + 0.5)
	k := make([]float64, 2*r+1)
	for i := -r; i <= r; i++ {
		x := float64(i) / sigma
		k[i+r] = math.Exp(-0.5 * x * x)
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// smoothReflect convolves src with a symmetric kernel, extending the
// signal by half-sample reflection (d c b a | a b c d | d c b a).
func smoothReflect(dst, src, kernel []float64) {
	n := len(src)
	r := len(kernel) / 2
	for j := 0; j < n; j++ {
		var acc float64
		for k := -r; k <= r; k++ {
			acc += kernel[k+r] * src[reflectIndex(j+k, n)]
		}
		dst[j] = acc
	}
}

func reflectIndex(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// TargetsToPolarImage rasterizes targets into a rows×cols occupancy
// image. Targets outside the image are ignored.
func TargetsToPolarImage(targets []Target, rows, cols int) *mat.Dense {
	m := occupancy.New(rows, cols)
	for _, t := range targets {
		if t.Azimuth < 0 || t.Azimuth >= rows || t.Range < 0 || t.Range >= cols {
			continue
		}
		m.Set(t.Azimuth, t.Range, occupancy.Occupied)
	}
	return m
}
