package calibration

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
)

var (
	// ErrCountMismatch is returned when the radar and lidar directories
	// hold a different number of frames.
	ErrCountMismatch = errors.New("calibration: radar and lidar frame counts differ")

	// ErrNoCloseFrame is returned when no candidate lies within
	// ClosestFrameTolerance of the query time.
	ErrNoCloseFrame = errors.New("calibration: no frame close to query time")

	// ErrNoFrames is returned when the dataset holds no frames.
	ErrNoFrames = errors.New("calibration: no frames")
)

// ClosestFrameTolerance is the largest accepted gap, in the units of the
// query, between a query time and its closest frame.
const ClosestFrameTolerance = 1.0

const (
	radarDir = "radar"
	lidarDir = "lidar"
)

// FramePair is one radar scan and the lidar sweep it is compared with.
type FramePair struct {
	Index int
	Radar string
	Lidar string
}

// ListFrames returns the sorted radar (*png*) and lidar (*csv*, *txt*)
// file names under root.
func ListFrames(fsys fsutil.FileSystem, root string) (radarFiles, lidarFiles []string, err error) {
	radarFiles, err = fsutil.ListFiles(fsys, filepath.Join(root, radarDir), "png")
	if err != nil {
		return nil, nil, err
	}
	lidarFiles, err = fsutil.ListFiles(fsys, filepath.Join(root, lidarDir), "csv", "txt")
	if err != nil {
		return nil, nil, err
	}
	return radarFiles, lidarFiles, nil
}

// DiscoverPairs pairs the radar and lidar files under root by sorted name.
// The two directories must hold the same number of frames.
func DiscoverPairs(fsys fsutil.FileSystem, root string) ([]FramePair, error) {
	radarFiles, lidarFiles, err := ListFrames(fsys, root)
	if err != nil {
		return nil, err
	}
	if len(radarFiles) != len(lidarFiles) {
		return nil, fmt.Errorf("%w: %d radar, %d lidar", ErrCountMismatch, len(radarFiles), len(lidarFiles))
	}
	if len(radarFiles) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoFrames, root)
	}

	pairs := make([]FramePair, len(radarFiles))
	for i := range radarFiles {
		pairs[i] = FramePair{
			Index: i,
			Radar: filepath.Join(root, radarDir, radarFiles[i]),
			Lidar: filepath.Join(root, lidarDir, lidarFiles[i]),
		}
	}
	return pairs, nil
}

// DiscoverPairsByTimestamp pairs each radar file under root with the
// lidar file whose timestamp is closest, using PairByTimestamp. The
// directories may hold different numbers of frames.
func DiscoverPairsByTimestamp(fsys fsutil.FileSystem, root string) ([]FramePair, error) {
	radarFiles, lidarFiles, err := ListFrames(fsys, root)
	if err != nil {
		return nil, err
	}
	pairs, err := PairByTimestamp(radarFiles, lidarFiles)
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		pairs[i].Radar = filepath.Join(root, radarDir, pairs[i].Radar)
		pairs[i].Lidar = filepath.Join(root, lidarDir, pairs[i].Lidar)
	}
	return pairs, nil
}

// PairByTimestamp matches every radar file with the lidar file nearest in
// time. File stems are timestamps in microseconds; they are compared in
// seconds, so a pair more than one second apart is rejected.
func PairByTimestamp(radarFiles, lidarFiles []string) ([]FramePair, error) {
	if len(radarFiles) == 0 {
		return nil, ErrNoFrames
	}
	lidarTimes := make([]float64, len(lidarFiles))
	for i, name := range lidarFiles {
		ts, err := StemSeconds(name)
		if err != nil {
			return nil, err
		}
		lidarTimes[i] = ts
	}

	pairs := make([]FramePair, len(radarFiles))
	for i, name := range radarFiles {
		ts, err := StemSeconds(name)
		if err != nil {
			return nil, err
		}
		lidarName, err := ClosestFrame(ts, lidarTimes, lidarFiles)
		if err != nil {
			return nil, fmt.Errorf("radar %s: %w", name, err)
		}
		pairs[i] = FramePair{Index: i, Radar: name, Lidar: lidarName}
	}
	return pairs, nil
}

// StemSeconds parses a file name such as "1547131046353776.png" as a
// microsecond timestamp and returns it in seconds.
func StemSeconds(name string) (float64, error) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	us, err := strconv.ParseFloat(stem, 64)
	if err != nil {
		return 0, fmt.Errorf("file %s has no timestamp stem: %w", name, err)
	}
	return us / 1e6, nil
}

// ClosestFrame returns the target whose time is nearest to query. Ties go
// to the earliest index. It fails with ErrNoCloseFrame when the nearest
// time is ClosestFrameTolerance or more away.
func ClosestFrame[T any](query float64, times []float64, targets []T) (T, error) {
	var zero T
	if len(times) != len(targets) {
		return zero, fmt.Errorf("closest frame: %d times for %d targets", len(times), len(targets))
	}
	if len(times) == 0 {
		return zero, fmt.Errorf("%w: no candidates for %f", ErrNoCloseFrame, query)
	}
	best := 0
	for i, t := range times {
		if math.Abs(t-query) < math.Abs(times[best]-query) {
			best = i
		}
	}
	if gap := math.Abs(times[best] - query); !(gap < ClosestFrameTolerance) {
		return zero, fmt.Errorf("%w: closest time to query %f is %f", ErrNoCloseFrame, query, times[best])
	}
	return targets[best], nil
}
