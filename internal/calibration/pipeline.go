// Package calibration estimates the yaw (and optionally the planar
// translation) between a spinning radar and a lidar from paired frames.
// Each frame is registered independently by phase correlation of radar
// and lidar occupancy images; per-frame estimates are then combined with
// a sigma-clipped mean.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/config"
	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
	"github.com/banshee-data/radar-lidar-calib/internal/lidar"
	"github.com/banshee-data/radar-lidar-calib/internal/monitoring"
	"github.com/banshee-data/radar-lidar-calib/internal/occupancy"
	"github.com/banshee-data/radar-lidar-calib/internal/radar"
	"github.com/banshee-data/radar-lidar-calib/internal/registration"
	"github.com/banshee-data/radar-lidar-calib/internal/timeutil"
)

var logf = monitoring.Tagged("calibrate")

// FrameEstimate is the result of registering one frame pair.
type FrameEstimate struct {
	Pair FramePair
	// RotationIndex is the azimuth row of the polar correlation peak.
	RotationIndex int
	// Rotation is the folded yaw in radians, in [0, π].
	Rotation float64
	// Peak is the height of the polar correlation maximum.
	Peak float64
	// Translation is nil unless translation estimation is enabled.
	Translation *Translation
	Duration    time.Duration
}

// Result holds the estimates of a run in frame order.
type Result struct {
	Frames []FrameEstimate
	// Skipped lists degenerate frames dropped under skip_degenerate.
	Skipped []FramePair
}

// Rotations returns the per-frame yaw estimates in frame order.
func (r *Result) Rotations() []float64 {
	out := make([]float64, len(r.Frames))
	for i, f := range r.Frames {
		out[i] = f.Rotation
	}
	return out
}

// Calibrator runs the per-frame pipeline against a dataset.
type Calibrator struct {
	fs       fsutil.FileSystem
	cfg      *config.CalibrationConfig
	decoder  radar.Decoder
	detector radar.Detector
	remapper radar.Remapper
	raster   lidar.Rasterizer
	clock    timeutil.Clock
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithDecoder replaces the radar scan decoder.
func WithDecoder(d radar.Decoder) Option { return func(c *Calibrator) { c.decoder = d } }

// WithDetector replaces the radar target detector.
func WithDetector(d radar.Detector) Option { return func(c *Calibrator) { c.detector = d } }

// WithRemapper replaces the polar to cartesian remapper.
func WithRemapper(r radar.Remapper) Option { return func(c *Calibrator) { c.remapper = r } }

// WithClock sets the clock used to time frames.
func WithClock(clock timeutil.Clock) Option { return func(c *Calibrator) { c.clock = clock } }

// NewCalibrator builds a Calibrator with the PNG decoder, the Cen2018
// detector and the polar remapper configured from cfg.
func NewCalibrator(fsys fsutil.FileSystem, cfg *config.CalibrationConfig, opts ...Option) *Calibrator {
	c := &Calibrator{
		fs:  fsys,
		cfg: cfg,
		decoder: &radar.PNGDecoder{
			FS:          fsys,
			EncoderSize: cfg.GetEncoderSize(),
		},
		detector: &radar.Cen2018Detector{
			MinRange: cfg.GetFeatureMinRange(),
			ZQ:       cfg.GetFeatureStd(),
			Sigma:    cfg.GetFeatureSigma(),
		},
		remapper: radar.PolarRemapper{},
		raster: lidar.Rasterizer{
			MinHeight: cfg.GetHeightMin(),
			MaxHeight: cfg.GetHeightMax(),
		},
		clock: timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run estimates every pair. Frames are processed by up to workers
// goroutines; the first failure cancels the rest and is returned, except
// that degenerate frames are logged and skipped when skip_degenerate is
// set.
func (c *Calibrator) Run(ctx context.Context, pairs []FramePair) (*Result, error) {
	if len(pairs) == 0 {
		return nil, ErrNoFrames
	}

	slots := make([]*FrameEstimate, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.GetWorkers())
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			est, err := c.estimateWithTimeout(gctx, pair)
			if err != nil {
				if errors.Is(err, registration.ErrDegenerate) && c.cfg.GetSkipDegenerate() {
					logf("skipping frame %d (%s): %v", pair.Index, pair.Radar, err)
					return nil
				}
				return fmt.Errorf("frame %d (%s, %s): %w", pair.Index, pair.Radar, pair.Lidar, err)
			}
			slots[i] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for i, est := range slots {
		if est != nil {
			res.Frames = append(res.Frames, *est)
			continue
		}
		res.Skipped = append(res.Skipped, pairs[i])
	}
	if len(res.Frames) == 0 {
		return res, fmt.Errorf("%w: all %d frames were degenerate", ErrNoEstimates, len(res.Skipped))
	}
	return res, nil
}

func (c *Calibrator) estimateWithTimeout(ctx context.Context, pair FramePair) (*FrameEstimate, error) {
	if d := c.cfg.GetFrameTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return c.EstimateFrame(ctx, pair)
}

// radarFrame is a decoded scan with its detections.
type radarFrame struct {
	scan  *radar.Scan
	polar *mat.Dense
}

// loadRadar decodes, optionally crops and upsamples, and runs detection.
func (c *Calibrator) loadRadar(ctx context.Context, path string, maxBins, upsample int) (*radarFrame, error) {
	scan, err := c.decoder.Decode(path, c.cfg.GetFixAzimuths())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxBins > 0 {
		scan = radar.CropRange(scan, maxBins)
	}
	scan, err = radar.UpsampleAzimuths(scan, upsample)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targets, err := c.detector.Detect(scan.Power)
	if err != nil {
		return nil, fmt.Errorf("detect targets: %w", err)
	}
	polar := radar.TargetsToPolarImage(targets, scan.Rows(), scan.RangeBins())
	return &radarFrame{scan: scan, polar: polar}, ctx.Err()
}

// loadLidar reads a sweep and applies the mount offset.
func (c *Calibrator) loadLidar(path string) (*lidar.PointCloud, error) {
	pc, err := lidar.ReadPointCloud(c.fs, path)
	if err != nil {
		return nil, err
	}
	return pc.Translate(c.cfg.GetXOffset(), c.cfg.GetYOffset()), nil
}

// EstimateFrame registers one pair. The rotation comes from the polar
// images; when translation estimation is enabled the lidar sweep is
// de-rotated by this frame's rotation and the cartesian images are
// registered too.
func (c *Calibrator) EstimateFrame(ctx context.Context, pair FramePair) (*FrameEstimate, error) {
	start := c.clock.Now()

	rf, err := c.loadRadar(ctx, pair.Radar, c.cfg.RangeBins(), c.cfg.GetUpsampleAzimuths())
	if err != nil {
		return nil, err
	}
	pc, err := c.loadLidar(pair.Lidar)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step := c.cfg.AzimuthStep()
	lidarPolar := c.raster.PolarImage(pc, c.cfg.GetRadarResolution(), step, rf.scan.RangeBins(), rf.scan.Rows())

	peak, err := registration.PhaseCorrelate(rf.polar, lidarPolar)
	if err != nil {
		return nil, fmt.Errorf("rotation: %w", err)
	}
	est := &FrameEstimate{
		Pair:          pair,
		RotationIndex: peak.Row,
		Rotation:      registration.Rotation(peak.Row, step),
		Peak:          peak.Value,
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.cfg.GetCalibrateTranslation() {
		t, err := c.estimateTranslation(rf, pc, est.Rotation)
		if err != nil {
			return nil, fmt.Errorf("translation: %w", err)
		}
		est.Translation = t
	}

	est.Duration = c.clock.Since(start)
	return est, ctx.Err()
}

func (c *Calibrator) estimateTranslation(rf *radarFrame, pc *lidar.PointCloud, rotation float64) (*Translation, error) {
	res := c.cfg.GetTranslationResolution()
	width := c.cfg.TranslationPixelWidth()

	radarCart, err := c.remapper.Remap(rf.scan.Azimuths, rf.polar, c.cfg.GetRadarResolution(), res, width)
	if err != nil {
		return nil, err
	}
	derotated := pc.Rotate(lidar.YawRotation(rotation))
	lidarCart := c.raster.CartesianImage(derotated, width, res)

	peak, err := registration.PhaseCorrelate(occupancy.Binarize(radarCart), lidarCart)
	if err != nil {
		return nil, err
	}
	dx, dy := registration.Translation(peak, width, res)
	return &Translation{X: dx, Y: dy}, nil
}

// Overlay is a pair of aligned cartesian occupancy images for display.
type Overlay struct {
	Radar *mat.Dense
	Lidar *mat.Dense
}

// OverlayFrame renders a frame at the overlay resolution, with the lidar
// sweep de-rotated by rotation. The scan is used at its native azimuth
// count and range.
func (c *Calibrator) OverlayFrame(ctx context.Context, pair FramePair, rotation float64) (*Overlay, error) {
	rf, err := c.loadRadar(ctx, pair.Radar, 0, 1)
	if err != nil {
		return nil, err
	}
	pc, err := c.loadLidar(pair.Lidar)
	if err != nil {
		return nil, err
	}

	res := c.cfg.GetOverlayResolution()
	width := c.cfg.GetOverlayPixelWidth()
	radarCart, err := c.remapper.Remap(rf.scan.Azimuths, rf.polar, c.cfg.GetRadarResolution(), res, width)
	if err != nil {
		return nil, err
	}
	derotated := pc.Rotate(lidar.YawRotation(rotation))
	return &Overlay{
		Radar: occupancy.Binarize(radarCart),
		Lidar: c.raster.CartesianImage(derotated, width, res),
	}, nil
}
