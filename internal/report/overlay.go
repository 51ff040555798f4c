// Package report renders calibration diagnostics: radar/lidar overlay
// images, rotation and translation plots, and an HTML summary.
package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
)

// Overlay composes a radar and a lidar cartesian image into one RGB
// image. In dark mode lidar is red and radar green on black, so aligned
// cells are yellow. In light mode the background is white, lidar-only
// cells red, radar-only cells blue and shared cells magenta.
func Overlay(radarCart, lidarCart mat.Matrix, lightMode bool) (*image.RGBA, error) {
	rr, rc := radarCart.Dims()
	lr, lc := lidarCart.Dims()
	if rr != lr || rc != lc {
		return nil, fmt.Errorf("overlay shapes differ: radar %dx%d, lidar %dx%d", rr, rc, lr, lc)
	}

	img := image.NewRGBA(image.Rect(0, 0, rc, rr))
	for i := 0; i < rr; i++ {
		for j := 0; j < rc; j++ {
			img.SetRGBA(j, i, overlayPixel(radarCart.At(i, j) > 0, lidarCart.At(i, j) > 0, lightMode))
		}
	}
	return img, nil
}

func overlayPixel(radar, lidar, lightMode bool) color.RGBA {
	if !lightMode {
		return color.RGBA{R: level(lidar), G: level(radar), A: 255}
	}
	return color.RGBA{
		R: level(lidar || !radar),
		G: level(!lidar && !radar),
		B: level(!lidar || radar),
		A: 255,
	}
}

func level(on bool) uint8 {
	if on {
		return 255
	}
	return 0
}

// OverlayName is the file name of the overlay for frame index.
func OverlayName(index int) string {
	return fmt.Sprintf("combined%d.png", index)
}

// WriteOverlay encodes img as dir/combined<index>.png, creating dir if
// needed, and returns the written path.
func WriteOverlay(fsys fsutil.FileSystem, dir string, index int, img image.Image) (string, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode overlay: %w", err)
	}
	path := filepath.Join(dir, OverlayName(index))
	if err := fsys.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write overlay: %w", err)
	}
	return path, nil
}
