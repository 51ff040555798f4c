package registration

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/radar-lidar-calib/internal/occupancy"
	"github.com/banshee-data/radar-lidar-calib/internal/testutil"
)

func TestPhaseCorrelate_RecoversCircularShift(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
		dr, dc     int
	}{
		{"zero shift", 16, 16, 0, 0},
		{"row shift", 32, 16, 5, 0},
		{"column shift", 16, 24, 0, 7},
		{"both", 20, 30, 13, 22},
		{"odd dims", 15, 9, 4, 8},
		{"non power of two", 36, 10, 35, 1},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testutil.RandomOccupancy(int64(42+i), tt.rows, tt.cols, 0.2)
			b := occupancy.CircularShift(a, tt.dr, tt.dc)

			p, err := PhaseCorrelate(a, b)
			require.NoError(t, err)
			assert.Equal(t, tt.dr, p.Row)
			assert.Equal(t, tt.dc, p.Col)
			assert.Greater(t, p.Value, 0.5)

			r, c := p.Surface.Dims()
			assert.Equal(t, tt.rows, r)
			assert.Equal(t, tt.cols, c)
		})
	}
}

func TestPhaseCorrelate_ColumnShiftOfSparseImage(t *testing.T) {
	a := occupancy.New(10, 10)
	a.Set(3, 3, occupancy.Occupied)
	a.Set(6, 1, occupancy.Occupied)
	a.Set(8, 7, occupancy.Occupied)
	b := occupancy.CircularShift(a, 0, 2)

	p, err := PhaseCorrelate(a, b)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Row)
	assert.Equal(t, 2, p.Col)
}

func TestPhaseCorrelate_Inverse(t *testing.T) {
	a := testutil.RandomOccupancy(7, 24, 24, 0.15)
	b := occupancy.CircularShift(a, 3, 19)

	ab, err := PhaseCorrelate(a, b)
	require.NoError(t, err)
	ba, err := PhaseCorrelate(b, a)
	require.NoError(t, err)

	assert.Equal(t, 0, (ab.Row+ba.Row)%24)
	assert.Equal(t, 0, (ab.Col+ba.Col)%24)
}

func TestPhaseCorrelate_ShapeMismatch(t *testing.T) {
	a := occupancy.New(4, 4)
	b := occupancy.New(4, 5)
	a.Set(0, 0, occupancy.Occupied)
	b.Set(0, 0, occupancy.Occupied)

	_, err := PhaseCorrelate(a, b)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}

func TestPhaseCorrelate_Degenerate(t *testing.T) {
	full := occupancy.New(8, 8)
	full.Set(2, 2, occupancy.Occupied)
	empty := occupancy.New(8, 8)

	_, err := PhaseCorrelate(empty, full)
	assert.ErrorIs(t, err, ErrDegenerate)
	_, err = PhaseCorrelate(full, empty)
	assert.ErrorIs(t, err, ErrDegenerate)

	// A uniformly filled image has only a DC component; its correlation
	// surface is flat.
	a := occupancy.New(8, 8)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			a.Set(i, j, occupancy.Occupied)
		}
	}
	_, err = PhaseCorrelate(a, a)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestRotation(t *testing.T) {
	step := 2 * math.Pi / 800

	tests := []struct {
		idx  int
		want float64
	}{
		{0, 0},
		{10, 10 * step},
		{400, math.Pi},
		{401, 399 * step},
		{790, 10 * step},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Rotation(tt.idx, step), 1e-12, "idx %d", tt.idx)
	}
}

func TestUnwrapShift(t *testing.T) {
	tests := []struct {
		idx, width, want int
	}{
		{0, 10, 0},
		{5, 10, 5},
		{6, 10, -4},
		{9, 10, -1},
		{4, 9, 4},
		{5, 9, -4},
	}
	for _, tt := range tests {
		if got := UnwrapShift(tt.idx, tt.width); got != tt.want {
			t.Errorf("UnwrapShift(%d, %d) = %d, want %d", tt.idx, tt.width, got, tt.want)
		}
	}
}

func TestTranslation(t *testing.T) {
	dx, dy := Translation(Peak{Row: 3, Col: 98}, 100, 0.5)
	assert.InDelta(t, 1.5, dx, 1e-12)
	assert.InDelta(t, -1.0, dy, 1e-12)
}
