// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// RandomOccupancy returns a rows×cols image where each cell is 255 with
// probability fill. The same seed always yields the same image.
func RandomOccupancy(seed int64, rows, cols int, fill float64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if rng.Float64() < fill {
				m.Set(i, j, 255)
			}
		}
	}
	return m
}

// PointsCSV renders points as comma-separated x,y,z rows with a trailing
// intensity column, the layout of the lidar frame files.
func PointsCSV(points [][3]float64) string {
	var b strings.Builder
	for _, p := range points {
		fmt.Fprintf(&b, "%g,%g,%g,1\n", p[0], p[1], p[2])
	}
	return b.String()
}

// WritePointsCSV writes points to path on fsys, failing the test on error.
func WritePointsCSV(t testing.TB, fsys fsutil.FileSystem, path string, points [][3]float64) {
	t.Helper()
	if err := fsys.WriteFile(path, []byte(PointsCSV(points)), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
