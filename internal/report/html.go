package report

import (
	"bytes"
	"fmt"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
)

// echartsAssetsHost serves the echarts javascript referenced by the page.
const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RotationReport is the data behind the HTML summary.
type RotationReport struct {
	Title     string
	Rotations []float64 // per-frame, radians
	Aggregate float64   // clipped mean, radians
	Std       float64   // radians
	Inliers   int
}

// WriteHTMLReport renders a line chart of per-frame yaw with the
// aggregate drawn as a flat second series.
func WriteHTMLReport(fsys fsutil.FileSystem, path string, r RotationReport) error {
	if len(r.Rotations) == 0 {
		return fmt.Errorf("html report: no samples")
	}

	xs := make([]string, len(r.Rotations))
	perFrame := make([]opts.LineData, len(r.Rotations))
	agg := make([]opts.LineData, len(r.Rotations))
	aggDeg := degrees(r.Aggregate)
	for i, rot := range r.Rotations {
		xs[i] = fmt.Sprintf("%d", i)
		perFrame[i] = opts.LineData{Value: degrees(rot)}
		agg[i] = opts.LineData{Value: aggDeg}
	}

	title := r.Title
	if title == "" {
		title = "Rotation Calibration Results"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1000px", Height: "560px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("yaw=%.4f° std=%.4f° inliers=%d/%d", aggDeg, degrees(r.Std), r.Inliers, len(r.Rotations)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Scene", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Yaw (°)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(xs).
		AddSeries("per-frame", perFrame).
		AddSeries("aggregate", agg)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return fsys.WriteFile(path, buf.Bytes(), 0644)
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
