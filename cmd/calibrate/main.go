// Command calibrate estimates the yaw offset between a spinning radar and
// a lidar from a directory of paired scans:
//
//	calibrate -root /data/run1
//
// The root holds radar/*.png polar scans and lidar/*.csv point clouds.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/radar-lidar-calib/internal/calibration"
	"github.com/banshee-data/radar-lidar-calib/internal/config"
	"github.com/banshee-data/radar-lidar-calib/internal/db"
	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
	"github.com/banshee-data/radar-lidar-calib/internal/monitoring"
	"github.com/banshee-data/radar-lidar-calib/internal/report"
	"github.com/banshee-data/radar-lidar-calib/internal/timeutil"
	"github.com/banshee-data/radar-lidar-calib/internal/version"
)

var (
	root                 = flag.String("root", "", "Path to the directory holding radar/ and lidar/")
	configPath           = flag.String("config", "", "Path to a JSON calibration config (defaults are used when empty)")
	resolution           = flag.Float64("resolution", 0.0438, "Range resolution of the radar (m)")
	lightMode            = flag.Bool("light-mode", false, "Use light mode for the radar-to-lidar overlays")
	visualize            = flag.Bool("visualize", true, "Write plots and overlay images")
	fixAzimuths          = flag.Bool("fix-azimuths", false, "Replace measured azimuths with an evenly spaced sweep")
	azimuthBins          = flag.Int("azimuth-bins", 400, "Number of azimuths per radar rotation")
	xOffset              = flag.Float64("x-offset", 0.4, "Translational x offset from radar to lidar (m)")
	yOffset              = flag.Float64("y-offset", -0.15, "Translational y offset from radar to lidar (m)")
	featureStd           = flag.Float64("feature-std", 3.0, "Feature detection standard deviation threshold")
	outDir               = flag.String("out", "figs", "Directory for plots and overlays")
	calibrateTranslation = flag.Bool("calibrate-translation", false, "Also estimate the planar translation (coarse)")
	upsample             = flag.Int("upsample", 2, "Azimuth upsampling factor")
	maxRange             = flag.Float64("max-range", 100, "Maximum range used for calibration (m)")
	workers              = flag.Int("workers", 1, "Frames processed concurrently")
	frameTimeout         = flag.Duration("frame-timeout", 0, "Per-frame timeout (0 disables)")
	skipDegenerate       = flag.Bool("skip-degenerate", false, "Skip frames with no usable detections instead of aborting")
	pairByTime           = flag.Bool("pair-by-time", false, "Pair radar and lidar frames by filename timestamp instead of sorted order")
	dbPath               = flag.String("db", "", "SQLite file to record the run in (disabled when empty)")
	showVersion          = flag.Bool("version", false, "Print version and exit")
)

var logf = monitoring.Tagged("calibrate")

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *root == "" {
		log.Fatal("-root is required")
	}

	cfg := config.DefaultCalibrationConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadCalibrationConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	applyFlags(cfg, explicitFlags(flag.CommandLine))
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, fsutil.OSFileSystem{}, timeutil.RealClock{}, *root, cfg, os.Stdout); err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
}

// explicitFlags returns the names of flags set on the command line.
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.CalibrationConfig, set map[string]bool) {
	if set["resolution"] {
		cfg.RadarResolution = config.Ptr(*resolution)
	}
	if set["light-mode"] {
		cfg.LightMode = config.Ptr(*lightMode)
	}
	if set["visualize"] {
		cfg.Visualize = config.Ptr(*visualize)
	}
	if set["fix-azimuths"] {
		cfg.FixAzimuths = config.Ptr(*fixAzimuths)
	}
	if set["azimuth-bins"] {
		cfg.AzimuthBins = config.Ptr(*azimuthBins)
	}
	if set["x-offset"] {
		cfg.XOffset = config.Ptr(*xOffset)
	}
	if set["y-offset"] {
		cfg.YOffset = config.Ptr(*yOffset)
	}
	if set["feature-std"] {
		cfg.FeatureStd = config.Ptr(*featureStd)
	}
	if set["out"] {
		cfg.OutputDir = config.Ptr(*outDir)
	}
	if set["calibrate-translation"] {
		cfg.CalibrateTranslation = config.Ptr(*calibrateTranslation)
	}
	if set["upsample"] {
		cfg.UpsampleAzimuths = config.Ptr(*upsample)
	}
	if set["max-range"] {
		cfg.MaxRange = config.Ptr(*maxRange)
	}
	if set["workers"] {
		cfg.Workers = config.Ptr(*workers)
	}
	if set["frame-timeout"] {
		cfg.FrameTimeout = config.Ptr(frameTimeout.String())
	}
	if set["skip-degenerate"] {
		cfg.SkipDegenerate = config.Ptr(*skipDegenerate)
	}
	if set["pair-by-time"] {
		cfg.PairByTimestamp = config.Ptr(*pairByTime)
	}
	if set["db"] {
		cfg.DBPath = config.Ptr(*dbPath)
	}
}

// run calibrates the dataset at root and prints the estimates to out.
func run(ctx context.Context, fsys fsutil.FileSystem, clock timeutil.Clock, root string, cfg *config.CalibrationConfig, out io.Writer) error {
	started := clock.Now()

	var (
		pairs []calibration.FramePair
		err   error
	)
	if cfg.GetPairByTimestamp() {
		pairs, err = calibration.DiscoverPairsByTimestamp(fsys, root)
	} else {
		pairs, err = calibration.DiscoverPairs(fsys, root)
	}
	if err != nil {
		return err
	}
	logf("%d frame pairs under %s", len(pairs), root)

	var (
		store *db.DB
		runID string
	)
	if path := cfg.GetDBPath(); path != "" {
		store, err = db.NewDB(path)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer store.Close()
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		if runID, err = store.StartRun(root, string(cfgJSON), started); err != nil {
			return err
		}
	}

	cal := calibration.NewCalibrator(fsys, cfg, calibration.WithClock(clock))
	res, summary, err := estimate(ctx, cal, pairs, store, runID, out)
	if err != nil {
		if store != nil {
			if ferr := store.FailRun(runID, err, clock.Now()); ferr != nil {
				logf("failed to record failure of run %s: %v", runID, ferr)
			}
		}
		return err
	}
	rot := summary.Rotation
	fmt.Fprintf(out, "rotation: %v radians, %v degrees | StD: %v radians, %v degrees\n",
		rot.Rotation, degrees(rot.Rotation), rot.Std, degrees(rot.Std))
	if t := summary.Translation; t != nil {
		fmt.Fprintf(out, "x: %v y: %v\n", t.X, t.Y)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, "skipped %d degenerate frames\n", len(res.Skipped))
	}

	if store != nil {
		result := db.RunResult{
			Rotation:    rot.Rotation,
			RotationStd: rot.Std,
			Inliers:     rot.Inliers,
			FrameCount:  len(res.Frames),
		}
		if t := summary.Translation; t != nil {
			result.TranslationX = &t.X
			result.TranslationY = &t.Y
		}
		if err := store.CompleteRun(runID, result, clock.Now()); err != nil {
			return err
		}
		logf("recorded run %s in %s", runID, cfg.GetDBPath())
	}

	if cfg.GetVisualize() {
		if err := writeDiagnostics(ctx, fsys, cal, cfg, pairs, res, summary); err != nil {
			return err
		}
	}
	logf("finished in %v", clock.Since(started))
	return nil
}

// estimate runs the calibration, prints and records each frame, and
// aggregates the frame estimates.
func estimate(ctx context.Context, cal *calibration.Calibrator, pairs []calibration.FramePair,
	store *db.DB, runID string, out io.Writer) (*calibration.Result, *calibration.Calibration, error) {
	res, err := cal.Run(ctx, pairs)
	if err != nil {
		return nil, nil, err
	}

	for _, f := range res.Frames {
		fmt.Fprintf(out, "rotation index: %d rotation: %v radians, %v degrees\n",
			f.RotationIndex, f.Rotation, degrees(f.Rotation))
		if f.Translation != nil {
			fmt.Fprintf(out, "delta_x: %v delta_y: %v\n", f.Translation.X, f.Translation.Y)
		}
		if store != nil {
			if err := store.RecordFrame(runID, frameRecord(f)); err != nil {
				return nil, nil, err
			}
		}
	}

	summary, err := calibration.Aggregate(res.Frames)
	if err != nil {
		return nil, nil, err
	}
	return res, summary, nil
}

// writeDiagnostics writes the rotation and translation plots, the HTML
// summary and one overlay per frame into the output directory.
func writeDiagnostics(ctx context.Context, fsys fsutil.FileSystem, cal *calibration.Calibrator, cfg *config.CalibrationConfig,
	pairs []calibration.FramePair, res *calibration.Result, summary *calibration.Calibration) error {
	dir := cfg.GetOutputDir()
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	rotations := res.Rotations()
	if err := report.PlotRotations(fsys, filepath.Join(dir, "rotations.png"), rotations); err != nil {
		return fmt.Errorf("plot rotations: %w", err)
	}
	if summary.Translation != nil {
		var xs, ys []float64
		for _, f := range res.Frames {
			if f.Translation != nil {
				xs = append(xs, f.Translation.X)
				ys = append(ys, f.Translation.Y)
			}
		}
		if err := report.PlotTranslations(fsys, filepath.Join(dir, "translations.png"), xs, ys); err != nil {
			return fmt.Errorf("plot translations: %w", err)
		}
	}
	err := report.WriteHTMLReport(fsys, filepath.Join(dir, "report.html"), report.RotationReport{
		Rotations: rotations,
		Aggregate: summary.Rotation.Rotation,
		Std:       summary.Rotation.Std,
		Inliers:   summary.Rotation.Inliers,
	})
	if err != nil {
		return err
	}

	for _, pair := range pairs {
		ov, err := cal.OverlayFrame(ctx, pair, summary.Rotation.Rotation)
		if err != nil {
			return fmt.Errorf("overlay frame %d: %w", pair.Index, err)
		}
		img, err := report.Overlay(ov.Radar, ov.Lidar, cfg.GetLightMode())
		if err != nil {
			return err
		}
		if _, err := report.WriteOverlay(fsys, dir, pair.Index, img); err != nil {
			return err
		}
	}
	return nil
}

func frameRecord(f calibration.FrameEstimate) db.FrameRecord {
	rec := db.FrameRecord{
		FrameIndex:    f.Pair.Index,
		RadarFile:     f.Pair.Radar,
		LidarFile:     f.Pair.Lidar,
		RotationIndex: f.RotationIndex,
		Rotation:      f.Rotation,
		Peak:          f.Peak,
		Duration:      f.Duration,
	}
	if f.Translation != nil {
		rec.TranslationX = &f.Translation.X
		rec.TranslationY = &f.Translation.Y
	}
	return rec
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
