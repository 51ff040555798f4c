package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateRotations_ClipsOutlier(t *testing.T) {
	rotations := make([]float64, 0, 20)
	for i := 0; i < 19; i++ {
		rotations = append(rotations, 0.1)
	}
	rotations = append(rotations, 1.0)

	s, err := AggregateRotations(rotations)
	require.NoError(t, err)

	assert.InDelta(t, 0.145, s.Mean, 1e-12)
	assert.InDelta(t, 0.1, s.Rotation, 1e-12)
	assert.NotEqual(t, s.Mean, s.Rotation)
	assert.Equal(t, 19, s.Inliers)
	assert.Equal(t, 20, s.Total)

	// Population standard deviation.
	want := math.Sqrt((19*0.045*0.045 + 0.855*0.855) / 20)
	assert.InDelta(t, want, s.Std, 1e-12)
}

func TestAggregateRotations_NoOutliers(t *testing.T) {
	s, err := AggregateRotations([]float64{0.1, 0.2, 0.3, 0.25})
	require.NoError(t, err)
	assert.InDelta(t, s.Mean, s.Rotation, 1e-15)
	assert.Equal(t, 4, s.Inliers)
}

func TestAggregateRotations_ZeroSpread(t *testing.T) {
	s, err := AggregateRotations([]float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.Rotation)
	assert.Equal(t, 0.0, s.Std)
	assert.Equal(t, 3, s.Inliers)
}

func TestAggregateRotations_Empty(t *testing.T) {
	_, err := AggregateRotations(nil)
	assert.ErrorIs(t, err, ErrNoEstimates)
}

func TestAggregateTranslations_PlainMean(t *testing.T) {
	// An extreme sample is not clipped.
	got, err := AggregateTranslations([]Translation{{1, -1}, {1, -1}, {1, -1}, {9, 3}})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got.X, 1e-12)
	assert.InDelta(t, 0.0, got.Y, 1e-12)

	_, err = AggregateTranslations(nil)
	assert.ErrorIs(t, err, ErrNoEstimates)
}

func TestAggregate(t *testing.T) {
	frames := []FrameEstimate{
		{Rotation: 0.1, Translation: &Translation{X: 0.4, Y: -0.2}},
		{Rotation: 0.3, Translation: &Translation{X: 0.6, Y: 0}},
	}
	c, err := Aggregate(frames)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, c.Rotation.Rotation, 1e-12)
	require.NotNil(t, c.Translation)
	assert.InDelta(t, 0.5, c.Translation.X, 1e-12)
	assert.InDelta(t, -0.1, c.Translation.Y, 1e-12)

	c, err = Aggregate([]FrameEstimate{{Rotation: 0.2}})
	require.NoError(t, err)
	assert.Nil(t, c.Translation)

	_, err = Aggregate(nil)
	assert.ErrorIs(t, err, ErrNoEstimates)
}
