package testutil

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
	"github.com/banshee-data/radar-lidar-calib/internal/radar"
)

// Landmark is a point reflector seen by both sensors, placed at a row and
// range bin of the lidar polar image.
type Landmark struct {
	Row int
	Bin int
}

// Scene describes a synthetic dataset frame. The radar scan shows each
// landmark Shift azimuth rows after the lidar sweep. Power rows carry an
// alternating 0.1/0.2 noise floor and a 5-bin return centred on the
// landmark bin, which a Cen2018 detector with a small smoothing width
// reduces back to that bin.
type Scene struct {
	Azimuths   int
	RangeBins  int
	Resolution float64 // metres per range bin
	Shift      int
	Landmarks  []Landmark
}

// FrameNames returns the radar and lidar file names of frame i,
// relative to the dataset root.
func FrameNames(i int) (radarFile, lidarFile string) {
	return filepath.Join("radar", fmt.Sprintf("%06d.png", i)),
		filepath.Join("lidar", fmt.Sprintf("%06d.csv", i))
}

// WriteSceneFrame writes frame index of s under root on fsys.
func WriteSceneFrame(t testing.TB, fsys fsutil.FileSystem, root string, index int, s Scene) {
	t.Helper()
	if radar.DefaultEncoderSize%s.Azimuths != 0 {
		t.Fatalf("%d azimuths do not divide the encoder size", s.Azimuths)
	}
	radarFile, lidarFile := FrameNames(index)

	scan := &radar.Scan{
		Timestamps: make([]int64, s.Azimuths),
		Azimuths:   make([]float64, s.Azimuths),
		Encoders:   make([]uint16, s.Azimuths),
		Valid:      make([]bool, s.Azimuths),
		Power:      mat.NewDense(s.Azimuths, s.RangeBins, nil),
	}
	perRow := radar.DefaultEncoderSize / s.Azimuths
	for i := 0; i < s.Azimuths; i++ {
		scan.Timestamps[i] = int64(index)*1_000_000 + int64(i)*250
		scan.Encoders[i] = uint16(i * perRow)
		scan.Azimuths[i] = float64(i*perRow) / radar.DefaultEncoderSize * 2 * math.Pi
		scan.Valid[i] = true
		scan.Power.SetRow(i, noiseRow(s.RangeBins, -1))
	}

	step := 2 * math.Pi / float64(s.Azimuths)
	points := make([][3]float64, 0, len(s.Landmarks))
	for _, lm := range s.Landmarks {
		row := ((lm.Row+s.Shift)%s.Azimuths + s.Azimuths) % s.Azimuths
		scan.Power.SetRow(row, noiseRow(s.RangeBins, lm.Bin))

		// The lidar polar image is row-flipped: row r holds azimuth bin
		// Azimuths-1-r.
		theta := (float64(s.Azimuths-1-lm.Row) + 0.5) * step
		r := (float64(lm.Bin) + 0.5) * s.Resolution
		points = append(points, [3]float64{r * math.Cos(theta), r * math.Sin(theta), 0.1})
	}

	if err := radar.WriteScan(fsys, filepath.Join(root, radarFile), scan); err != nil {
		t.Fatalf("write scan: %v", err)
	}
	WritePointsCSV(t, fsys, filepath.Join(root, lidarFile), points)
}

// noiseRow is the noise floor with a 5-bin return centred on centre, or
// no return when centre is negative.
func noiseRow(cols, centre int) []float64 {
	row := make([]float64, cols)
	for j := range row {
		row[j] = 0.1
		if j%2 == 1 {
			row[j] = 0.2
		}
		if centre >= 0 && j >= centre-2 && j <= centre+2 {
			row[j] = 1.0
		}
	}
	return row
}
