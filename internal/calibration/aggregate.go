package calibration

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrNoEstimates is returned when there is nothing to aggregate.
var ErrNoEstimates = errors.New("calibration: no per-frame estimates")

// clipSigmas is the clipping half-width in standard deviations.
const clipSigmas = 3.0

// RotationSummary is the robust combination of per-frame yaw estimates.
type RotationSummary struct {
	// Rotation is the mean of the samples within 3σ of Mean.
	Rotation float64
	// Mean and Std are the unclipped mean and population standard
	// deviation.
	Mean float64
	Std  float64
	// Inliers counts the samples that survived clipping.
	Inliers int
	Total   int
}

// Translation is a metric (x, y) offset in metres.
type Translation struct {
	X, Y float64
}

// AggregateRotations sigma-clips the estimates once around their mean
// and averages the survivors. A zero spread, or a clip that rejects every
// sample, leaves the plain mean.
func AggregateRotations(rotations []float64) (RotationSummary, error) {
	if len(rotations) == 0 {
		return RotationSummary{}, ErrNoEstimates
	}
	mean, std := stat.PopMeanStdDev(rotations, nil)
	s := RotationSummary{
		Rotation: mean,
		Mean:     mean,
		Std:      std,
		Inliers:  len(rotations),
		Total:    len(rotations),
	}
	if std == 0 || math.IsNaN(std) {
		return s, nil
	}

	var kept []float64
	for _, r := range rotations {
		if math.Abs(r-mean) < clipSigmas*std {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return s, nil
	}
	s.Rotation = stat.Mean(kept, nil)
	s.Inliers = len(kept)
	return s, nil
}

// AggregateTranslations is the plain mean of the per-frame translations.
// Unlike rotations there is no outlier clipping.
func AggregateTranslations(ts []Translation) (Translation, error) {
	if len(ts) == 0 {
		return Translation{}, ErrNoEstimates
	}
	xs := make([]float64, len(ts))
	ys := make([]float64, len(ts))
	for i, t := range ts {
		xs[i], ys[i] = t.X, t.Y
	}
	return Translation{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}, nil
}

// Calibration is the final result of a run.
type Calibration struct {
	Rotation RotationSummary
	// Translation is nil unless translation estimation ran.
	Translation *Translation
}

// Aggregate combines the per-frame estimates of a run.
func Aggregate(frames []FrameEstimate) (*Calibration, error) {
	if len(frames) == 0 {
		return nil, ErrNoEstimates
	}
	rotations := make([]float64, len(frames))
	var translations []Translation
	for i, f := range frames {
		rotations[i] = f.Rotation
		if f.Translation != nil {
			translations = append(translations, *f.Translation)
		}
	}

	rot, err := AggregateRotations(rotations)
	if err != nil {
		return nil, err
	}
	out := &Calibration{Rotation: rot}
	if len(translations) > 0 {
		t, err := AggregateTranslations(translations)
		if err != nil {
			return nil, err
		}
		out.Translation = &t
	}
	return out, nil
}
