package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
)

var (
	rotationColor    = color.RGBA{B: 255, A: 255}
	translationColor = color.RGBA{R: 255, A: 255}
)

// PlotRotations saves per-frame yaw estimates, in degrees against frame
// index, as a PNG at path: blue markers joined by a dashed line.
func PlotRotations(fsys fsutil.FileSystem, path string, rotations []float64) error {
	if len(rotations) == 0 {
		return fmt.Errorf("plot rotations: no samples")
	}
	pts := make(plotter.XYs, len(rotations))
	for i, r := range rotations {
		pts[i] = plotter.XY{X: float64(i), Y: r * 180 / math.Pi}
	}

	p := plot.New()
	p.Title.Text = "Rotation Calibration Results"
	p.X.Label.Text = "Scenes"
	p.Y.Label.Text = "Yaw Rotation (°)"

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Color = rotationColor
	line.Width = vg.Points(1)
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	points.Shape = draw.CircleGlyph{}
	points.Color = rotationColor
	p.Add(line, points, plotter.NewGrid())

	return savePNG(fsys, p, path, 8*vg.Inch, 5*vg.Inch)
}

// PlotTranslations saves per-frame (x, y) translation estimates as a
// scatter PNG at path.
func PlotTranslations(fsys fsutil.FileSystem, path string, xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("plot translations: %d x values, %d y values", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return fmt.Errorf("plot translations: no samples")
	}
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}

	p := plot.New()
	p.Title.Text = "Translation Calibration Results"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.Shape = draw.CircleGlyph{}
	scatter.Color = translationColor
	scatter.Radius = vg.Points(2)
	p.Add(scatter, plotter.NewGrid())

	return savePNG(fsys, p, path, 6*vg.Inch, 6*vg.Inch)
}

func savePNG(fsys fsutil.FileSystem, p *plot.Plot, path string, w, h vg.Length) error {
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	return fsys.WriteFile(path, buf.Bytes(), 0644)
}
