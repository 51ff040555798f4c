package lidar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestYawRotation_ZeroIsIdentity(t *testing.T) {
	r := YawRotation(0)
	assert.True(t, mat.Equal(r, eye3()), "YawRotation(0) should be identity:\n%v", mat.Formatted(r))
}

func TestYawRotation_Orthogonal(t *testing.T) {
	for i := 0; i < 64; i++ {
		theta := 2 * math.Pi * float64(i) / 64
		r := YawRotation(theta)

		var rtr mat.Dense
		rtr.Mul(r.T(), r)
		assert.True(t, mat.EqualApprox(&rtr, eye3(), 1e-12), "RᵀR != I for θ=%f", theta)

		var inv mat.Dense
		require.NoError(t, inv.Inverse(r))
		assert.True(t, mat.EqualApprox(&inv, r.T(), 1e-12), "R⁻¹ != Rᵀ for θ=%f", theta)
	}
}

func TestYawRotation_SignLayout(t *testing.T) {
	r := YawRotation(math.Pi / 2)
	pc := NewPointCloud([]Point{{X: 1, Y: 0, Z: 0.3}})

	got := pc.Rotate(r).At(0)
	assert.InDelta(t, 0.0, got.X, 1e-12)
	assert.InDelta(t, -1.0, got.Y, 1e-12)
	assert.InDelta(t, 0.3, got.Z, 1e-12)
}

func TestRotate_RoundTrip(t *testing.T) {
	pc := NewPointCloud([]Point{
		{X: 1, Y: 2, Z: 0.1},
		{X: -3.5, Y: 0.25, Z: 0.4},
		{X: 10, Y: -7, Z: -1},
	})

	for _, theta := range []float64{0.01, 0.7, math.Pi, 4.2, 2*math.Pi - 0.001} {
		back := pc.Rotate(YawRotation(theta)).Rotate(YawRotation(-theta))
		require.Equal(t, pc.Len(), back.Len())
		for i := 0; i < pc.Len(); i++ {
			want, got := pc.At(i), back.At(i)
			assert.InDelta(t, want.X, got.X, 1e-9)
			assert.InDelta(t, want.Y, got.Y, 1e-9)
			assert.InDelta(t, want.Z, got.Z, 1e-12)
		}
	}
}

func TestTransforms_DoNotMutate(t *testing.T) {
	pc := NewPointCloud([]Point{{X: 1, Y: 1, Z: 0}})

	moved := pc.Translate(0.4, -0.15)
	rotated := pc.Rotate(YawRotation(1))

	assert.Equal(t, Point{X: 1, Y: 1, Z: 0}, pc.At(0))
	assert.InDelta(t, 1.4, moved.At(0).X, 1e-12)
	assert.InDelta(t, 0.85, moved.At(0).Y, 1e-12)
	assert.NotEqual(t, pc.At(0), rotated.At(0))
}

func TestEmptyCloudTransforms(t *testing.T) {
	pc := NewPointCloud(nil)
	assert.Equal(t, 0, pc.Len())
	assert.Equal(t, 0, pc.Translate(1, 1).Len())
	assert.Equal(t, 0, pc.Rotate(YawRotation(1)).Len())
}

func TestFromMatrix(t *testing.T) {
	_, err := FromMatrix(mat.NewDense(2, 2, nil))
	assert.Error(t, err)

	pc, err := FromMatrix(mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, err)
	assert.Equal(t, []Point{{1, 3, 5}, {2, 4, 6}}, pc.Points())
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
