package calibration

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/config"
	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
	"github.com/banshee-data/radar-lidar-calib/internal/lidar"
	"github.com/banshee-data/radar-lidar-calib/internal/monitoring"
	"github.com/banshee-data/radar-lidar-calib/internal/occupancy"
	"github.com/banshee-data/radar-lidar-calib/internal/radar"
	"github.com/banshee-data/radar-lidar-calib/internal/registration"
	"github.com/banshee-data/radar-lidar-calib/internal/testutil"
	"github.com/banshee-data/radar-lidar-calib/internal/timeutil"
)

const (
	testAzimuths  = 36
	testRangeBins = 40
)

var testStep = 2 * math.Pi / testAzimuths

// The fixture sweep has one point at the centre of each listed
// (azimuth bin, range bin) cell.
var fixtureCells = [][2]int{{1, 5}, {4, 12}, {5, 7}, {9, 33}, {17, 20}, {22, 9}, {30, 27}, {31, 14}}

func fixturePoints() [][3]float64 {
	pts := make([][3]float64, len(fixtureCells))
	for i, c := range fixtureCells {
		theta := (float64(c[0]) + 0.5) * testStep
		r := float64(c[1]) + 0.5
		pts[i] = [3]float64{r * math.Cos(theta), r * math.Sin(theta), 0.1}
	}
	return pts
}

func fixtureCloud() *lidar.PointCloud {
	pts := fixturePoints()
	out := make([]lidar.Point, len(pts))
	for i, p := range pts {
		out[i] = lidar.Point{X: p[0], Y: p[1], Z: p[2]}
	}
	return lidar.NewPointCloud(out)
}

// fakeDecoder returns an empty scan whose first power cell carries the
// row shift the fake detector should apply.
type fakeDecoder struct {
	shifts map[string]int
	delay  time.Duration
}

func (d *fakeDecoder) Decode(path string, _ bool) (*radar.Scan, error) {
	k, ok := d.shifts[path]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scan %s", radar.ErrMalformedScan, path)
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	az := make([]float64, testAzimuths)
	for i := range az {
		az[i] = float64(i) * testStep
	}
	power := mat.NewDense(testAzimuths, testRangeBins, nil)
	power.Set(0, 0, float64(k))
	return &radar.Scan{Azimuths: az, Power: power}, nil
}

// fakeDetector reports the lidar polar image of the fixture rolled down
// by the shift encoded in the power array. A negative shift detects
// nothing.
type fakeDetector struct {
	lidarPolar *mat.Dense
}

func (d *fakeDetector) Detect(power mat.Matrix) ([]radar.Target, error) {
	k := int(power.At(0, 0))
	if k < 0 {
		return nil, nil
	}
	rows, cols := d.lidarPolar.Dims()
	var out []radar.Target
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if d.lidarPolar.At(i, j) != 0 {
				out = append(out, radar.Target{Azimuth: (i + k) % rows, Range: j})
			}
		}
	}
	return out, nil
}

// fakeRemapper returns the lidar cartesian image of the fixture rolled by
// (dr, dc), as if the radar saw the scene offset by that many pixels.
type fakeRemapper struct {
	cloud  *lidar.PointCloud
	dr, dc int
}

func (r *fakeRemapper) Remap(_ []float64, _ mat.Matrix, _, res float64, width int) (*mat.Dense, error) {
	return occupancy.CircularShift(lidar.ToCartesianImage(r.cloud, width, res), r.dr, r.dc), nil
}

func testConfig() *config.CalibrationConfig {
	cfg := config.EmptyCalibrationConfig()
	cfg.RadarResolution = config.Ptr(1.0)
	cfg.MaxRange = config.Ptr(float64(testRangeBins))
	cfg.AzimuthBins = config.Ptr(testAzimuths)
	cfg.UpsampleAzimuths = config.Ptr(1)
	cfg.XOffset = config.Ptr(0.0)
	cfg.YOffset = config.Ptr(0.0)
	return cfg
}

type fixture struct {
	fs    *fsutil.MemoryFileSystem
	pairs []FramePair
	dec   *fakeDecoder
	det   *fakeDetector
}

func newFixture(t *testing.T, shifts ...int) *fixture {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	f := &fixture{
		fs:  fsutil.NewMemoryFileSystem(),
		dec: &fakeDecoder{shifts: map[string]int{}},
		det: &fakeDetector{
			lidarPolar: lidar.ToPolarImage(fixtureCloud(), 1, testStep, testRangeBins, testAzimuths),
		},
	}
	for i, k := range shifts {
		p := FramePair{
			Index: i,
			Radar: fmt.Sprintf("radar/%04d.png", i),
			Lidar: fmt.Sprintf("lidar/%04d.csv", i),
		}
		f.dec.shifts[p.Radar] = k
		testutil.WritePointsCSV(t, f.fs, p.Lidar, fixturePoints())
		f.pairs = append(f.pairs, p)
	}
	return f
}

func (f *fixture) calibrator(cfg *config.CalibrationConfig, opts ...Option) *Calibrator {
	opts = append([]Option{WithDecoder(f.dec), WithDetector(f.det)}, opts...)
	return NewCalibrator(f.fs, cfg, opts...)
}

func TestEstimateFrame_RecoversRotation(t *testing.T) {
	for _, k := range []int{0, 1, 3, 7} {
		t.Run(fmt.Sprintf("shift %d", k), func(t *testing.T) {
			f := newFixture(t, k)
			est, err := f.calibrator(testConfig()).EstimateFrame(context.Background(), f.pairs[0])
			require.NoError(t, err)

			assert.InDelta(t, float64(k)*testStep, est.Rotation, 1e-12)
			assert.Equal(t, (testAzimuths-k)%testAzimuths, est.RotationIndex)
			assert.Greater(t, est.Peak, 0.5)
			assert.Nil(t, est.Translation)
		})
	}
}

func TestEstimateFrame_Translation(t *testing.T) {
	f := newFixture(t, 0)
	cfg := testConfig()
	cfg.CalibrateTranslation = config.Ptr(true)

	remap := &fakeRemapper{cloud: fixtureCloud(), dr: 2, dc: -3}
	est, err := f.calibrator(cfg, WithRemapper(remap)).EstimateFrame(context.Background(), f.pairs[0])
	require.NoError(t, err)

	require.NotNil(t, est.Translation)
	assert.InDelta(t, -2.0, est.Translation.X, 1e-12)
	assert.InDelta(t, 3.0, est.Translation.Y, 1e-12)
}

func TestEstimateFrame_TimesWithClock(t *testing.T) {
	f := newFixture(t, 2)
	clock := timeutil.NewMockClock(time.Unix(1547131046, 0))
	clock.SetAutoStep(time.Second)

	est, err := f.calibrator(testConfig(), WithClock(clock)).EstimateFrame(context.Background(), f.pairs[0])
	require.NoError(t, err)
	assert.Equal(t, time.Second, est.Duration)
}

func TestRun_ParallelKeepsFrameOrder(t *testing.T) {
	shifts := []int{1, 2, 3, 4, 5, 6}
	f := newFixture(t, shifts...)
	cfg := testConfig()
	cfg.Workers = config.Ptr(3)

	res, err := f.calibrator(cfg).Run(context.Background(), f.pairs)
	require.NoError(t, err)
	require.Len(t, res.Frames, len(shifts))
	assert.Empty(t, res.Skipped)

	for i, k := range shifts {
		assert.Equal(t, i, res.Frames[i].Pair.Index)
		assert.InDelta(t, float64(k)*testStep, res.Rotations()[i], 1e-12)
	}
}

func TestRun_DegenerateFrameIsFatalByDefault(t *testing.T) {
	f := newFixture(t, 1, -1, 2)

	_, err := f.calibrator(testConfig()).Run(context.Background(), f.pairs)
	require.Error(t, err)
	assert.ErrorIs(t, err, registration.ErrDegenerate)
	assert.Contains(t, err.Error(), "frame 1")
}

func TestRun_SkipDegenerate(t *testing.T) {
	f := newFixture(t, 1, -1, 2)
	cfg := testConfig()
	cfg.SkipDegenerate = config.Ptr(true)

	res, err := f.calibrator(cfg).Run(context.Background(), f.pairs)
	require.NoError(t, err)
	require.Len(t, res.Frames, 2)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 1, res.Skipped[0].Index)

	_, err = f.calibrator(cfg).Run(context.Background(), f.pairs[1:2])
	assert.ErrorIs(t, err, ErrNoEstimates)
}

func TestRun_FrameTimeout(t *testing.T) {
	f := newFixture(t, 1)
	f.dec.delay = 50 * time.Millisecond
	cfg := testConfig()
	cfg.FrameTimeout = config.Ptr("1ms")

	_, err := f.calibrator(cfg).Run(context.Background(), f.pairs)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.calibrator(testConfig()).Run(ctx, f.pairs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Errors(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.calibrator(testConfig()).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFrames)

	missing := []FramePair{{Radar: "radar/none.png", Lidar: f.pairs[0].Lidar}}
	_, err = f.calibrator(testConfig()).Run(context.Background(), missing)
	assert.ErrorIs(t, err, radar.ErrMalformedScan)

	noLidar := []FramePair{{Radar: f.pairs[0].Radar, Lidar: "lidar/none.csv"}}
	_, err = f.calibrator(testConfig()).Run(context.Background(), noLidar)
	assert.Error(t, err)
}

func TestOverlayFrame(t *testing.T) {
	f := newFixture(t, 3)
	cfg := testConfig()
	cfg.OverlayResolution = config.Ptr(1.0)
	cfg.OverlayPixelWidth = config.Ptr(90)

	remap := &fakeRemapper{cloud: fixtureCloud()}
	ov, err := f.calibrator(cfg, WithRemapper(remap)).OverlayFrame(context.Background(), f.pairs[0], 0)
	require.NoError(t, err)

	r, c := ov.Radar.Dims()
	assert.Equal(t, 90, r)
	assert.Equal(t, 90, c)
	// With no rotation the lidar image is exactly what the remapper saw.
	assert.True(t, mat.Equal(ov.Radar, ov.Lidar))
	assert.Equal(t, len(fixtureCells), occupancy.Count(ov.Lidar))
}

func sceneConfig(azimuths, bins int) *config.CalibrationConfig {
	cfg := config.EmptyCalibrationConfig()
	cfg.RadarResolution = config.Ptr(1.0)
	cfg.MaxRange = config.Ptr(float64(bins))
	cfg.AzimuthBins = config.Ptr(azimuths)
	cfg.UpsampleAzimuths = config.Ptr(1)
	cfg.XOffset = config.Ptr(0.0)
	cfg.YOffset = config.Ptr(0.0)
	cfg.FeatureMinRange = config.Ptr(10)
	cfg.FeatureSigma = config.Ptr(2.0)
	return cfg
}

var sceneLandmarks = []testutil.Landmark{
	{Row: 3, Bin: 102}, {Row: 11, Bin: 42}, {Row: 20, Bin: 102}, {Row: 31, Bin: 102}, {Row: 40, Bin: 42},
}

func TestCalibrator_DecodesDetectsAndRegistersScans(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	const azimuths, bins = 70, 200
	fsys := fsutil.NewMemoryFileSystem()
	shifts := []int{2, 5, 0}
	for i, k := range shifts {
		testutil.WriteSceneFrame(t, fsys, "/data", i, testutil.Scene{
			Azimuths: azimuths, RangeBins: bins, Resolution: 1, Shift: k, Landmarks: sceneLandmarks,
		})
	}
	pairs, err := DiscoverPairs(fsys, "/data")
	require.NoError(t, err)

	cfg := sceneConfig(azimuths, bins)
	res, err := NewCalibrator(fsys, cfg).Run(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, res.Frames, len(shifts))

	step := cfg.AzimuthStep()
	for i, k := range shifts {
		f := res.Frames[i]
		assert.Equal(t, (azimuths-k)%azimuths, f.RotationIndex, "frame %d", i)
		assert.InDelta(t, float64(k)*step, f.Rotation, 1e-9, "frame %d", i)
		assert.Greater(t, f.Peak, 0.5, "frame %d", i)
	}

	ov, err := NewCalibrator(fsys, cfg).OverlayFrame(context.Background(), pairs[0], res.Frames[0].Rotation)
	require.NoError(t, err)
	assert.Positive(t, occupancy.Count(ov.Radar))
	assert.Positive(t, occupancy.Count(ov.Lidar))
}
