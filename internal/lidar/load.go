package lidar

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
)

// LoadPointCloud parses a comma-separated point file, one point per row.
// The first three columns are x, y, z; extra columns are ignored. Lines
// starting with '#' are comments.
func LoadPointCloud(r io.Reader) (*PointCloud, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var points []Point
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read point row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 columns, got %d", line, len(rec))
		}
		var xyz [3]float64
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[k]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, k+1, err)
			}
			xyz[k] = v
		}
		points = append(points, Point{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}

	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	return NewPointCloud(points), nil
}

// ReadPointCloud opens path on fsys and parses it with LoadPointCloud.
func ReadPointCloud(fsys fsutil.FileSystem, path string) (*PointCloud, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lidar file: %w", err)
	}
	defer f.Close()

	pc, err := LoadPointCloud(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return pc, nil
}
