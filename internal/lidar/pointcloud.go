package lidar

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrNoPoints is returned when a lidar scan holds no points.
var ErrNoPoints = errors.New("point cloud has no points")

// PointCloud is an ordered set of lidar returns stored as a 3×N matrix,
// one column per point (x, y, z in metres, sensor frame).
//
// Transforms return a new cloud and never modify the receiver, so one
// cloud can feed the polar and cartesian rasterizers and the de-rotation
// pass without aliasing.
type PointCloud struct {
	m *mat.Dense // nil when empty
}

// Point is a single lidar return.
type Point struct {
	X, Y, Z float64
}

// NewPointCloud builds a cloud from a list of points.
func NewPointCloud(points []Point) *PointCloud {
	if len(points) == 0 {
		return &PointCloud{}
	}
	m := mat.NewDense(3, len(points), nil)
	for i, p := range points {
		m.Set(0, i, p.X)
		m.Set(1, i, p.Y)
		m.Set(2, i, p.Z)
	}
	return &PointCloud{m: m}
}

// FromMatrix wraps a 3×N matrix. The matrix is copied.
func FromMatrix(m mat.Matrix) (*PointCloud, error) {
	r, c := m.Dims()
	if r != 3 {
		return nil, fmt.Errorf("point matrix must have 3 rows, got %d", r)
	}
	if c == 0 {
		return &PointCloud{}, nil
	}
	return &PointCloud{m: mat.DenseCopyOf(m)}, nil
}

// Len returns the number of points.
func (pc *PointCloud) Len() int {
	if pc == nil || pc.m == nil {
		return 0
	}
	_, n := pc.m.Dims()
	return n
}

// At returns the i-th point.
func (pc *PointCloud) At(i int) Point {
	return Point{X: pc.m.At(0, i), Y: pc.m.At(1, i), Z: pc.m.At(2, i)}
}

// Points returns a copy of the cloud as a slice.
func (pc *PointCloud) Points() []Point {
	out := make([]Point, pc.Len())
	for i := range out {
		out[i] = pc.At(i)
	}
	return out
}

// Translate returns a copy of the cloud with (dx, dy) added to every
// point. Height is untouched.
func (pc *PointCloud) Translate(dx, dy float64) *PointCloud {
	if pc.Len() == 0 {
		return &PointCloud{}
	}
	out := mat.DenseCopyOf(pc.m)
	n := pc.Len()
	for i := 0; i < n; i++ {
		out.Set(0, i, out.At(0, i)+dx)
		out.Set(1, i, out.At(1, i)+dy)
	}
	return &PointCloud{m: out}
}

// Rotate returns R·P, i.e. every point rotated about the origin by the
// 3×3 matrix r.
func (pc *PointCloud) Rotate(r mat.Matrix) *PointCloud {
	if pc.Len() == 0 {
		return &PointCloud{}
	}
	var out mat.Dense
	out.Mul(r, pc.m)
	return &PointCloud{m: &out}
}
