package lidar

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/occupancy"
)

// Default height band: returns between the ground and half a metre are the
// obstacles the radar also sees.
const (
	DefaultMinHeight = 0.0
	DefaultMaxHeight = 0.5
)

// Rasterizer converts point clouds into binary occupancy images comparable
// to the radar's. Points outside the height band or outside the image
// bounds are dropped silently; that is the crop to the radar's field of
// regard, not an error.
type Rasterizer struct {
	MinHeight float64
	MaxHeight float64
}

// DefaultRasterizer returns a Rasterizer with the default height band.
func DefaultRasterizer() Rasterizer {
	return Rasterizer{MinHeight: DefaultMinHeight, MaxHeight: DefaultMaxHeight}
}

// ToCartesianImage rasterizes with the default height band.
func ToCartesianImage(pc *PointCloud, pixelWidth int, resolution float64) *mat.Dense {
	return DefaultRasterizer().CartesianImage(pc, pixelWidth, resolution)
}

// ToPolarImage rasterizes with the default height band.
func ToPolarImage(pc *PointCloud, rangeResolution, azimuthResolution float64, rangeBins, azimuthBins int) *mat.Dense {
	return DefaultRasterizer().PolarImage(pc, rangeResolution, azimuthResolution, rangeBins, azimuthBins)
}

func (r Rasterizer) inBand(z float64) bool {
	return z >= r.MinHeight && z <= r.MaxHeight
}

// CartesianImage returns a top-down pixelWidth×pixelWidth image centred on
// the sensor. Row = floor((minRange-x)/resolution), col =
// floor((minRange-y)/resolution); forward x points up the image.
func (r Rasterizer) CartesianImage(pc *PointCloud, pixelWidth int, resolution float64) *mat.Dense {
	img := occupancy.New(pixelWidth, pixelWidth)
	minRange := occupancy.MinRange(pixelWidth, resolution)

	for i := 0; i < pc.Len(); i++ {
		p := pc.At(i)
		if !r.inBand(p.Z) {
			continue
		}
		row, ok := occupancy.BinIndex((minRange-p.X)/resolution, pixelWidth)
		if !ok {
			continue
		}
		col, ok := occupancy.BinIndex((minRange-p.Y)/resolution, pixelWidth)
		if !ok {
			continue
		}
		img.Set(row, col, occupancy.Occupied)
	}
	return img
}

// PolarImage returns an azimuthBins×rangeBins image indexed by (azimuth bin,
// range bin). Azimuth is atan2(y, x) in [0, 2π). The rows are reversed
// before returning so that row order follows the radar's scan direction.
func (r Rasterizer) PolarImage(pc *PointCloud, rangeResolution, azimuthResolution float64, rangeBins, azimuthBins int) *mat.Dense {
	img := occupancy.New(azimuthBins, rangeBins)

	for i := 0; i < pc.Len(); i++ {
		p := pc.At(i)
		if !r.inBand(p.Z) {
			continue
		}
		theta := math.Atan2(p.Y, p.X)
		if theta < 0 {
			theta += 2 * math.Pi
		}
		rangeBin, ok := occupancy.BinIndex(math.Hypot(p.X, p.Y)/rangeResolution, rangeBins)
		if !ok {
			continue
		}
		azimuthBin, ok := occupancy.BinIndex(theta/azimuthResolution, azimuthBins)
		if !ok {
			continue
		}
		img.Set(azimuthBin, rangeBin, occupancy.Occupied)
	}
	return occupancy.FlipRows(img)
}
