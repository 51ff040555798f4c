package radar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/radar-lidar-calib/internal/fsutil"
)

// DefaultEncoderSize is the number of encoder counts per revolution.
const DefaultEncoderSize = 5600

// Header layout of each azimuth row in a polar scan image.
const (
	timestampBytes = 8
	encoderOffset  = 8
	validOffset    = 10
	powerOffset    = 11
)

// Decoder turns a polar scan file into a Scan.
type Decoder interface {
	Decode(path string, fixAzimuths bool) (*Scan, error)
}

// PNGDecoder reads 8-bit grayscale polar scans. Each image row is one
// azimuth: an int64 little-endian timestamp in microseconds, a uint16
// little-endian encoder count, a validity byte (255 when valid), then
// one power byte per range bin.
type PNGDecoder struct {
	FS          fsutil.FileSystem
	EncoderSize int
}

// NewPNGDecoder returns a decoder using the default encoder size.
func NewPNGDecoder(fsys fsutil.FileSystem) *PNGDecoder {
	return &PNGDecoder{FS: fsys, EncoderSize: DefaultEncoderSize}
}

// Decode reads path and parses it with DecodeImage.
func (d *PNGDecoder) Decode(path string, fixAzimuths bool) (*Scan, error) {
	data, err := d.FS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read radar scan: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	scan, err := DecodeImage(img, d.encoderSize(), fixAzimuths)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return scan, nil
}

func (d *PNGDecoder) encoderSize() int {
	if d.EncoderSize <= 0 {
		return DefaultEncoderSize
	}
	return d.EncoderSize
}

// DecodeImage parses an already decoded polar image. With fixAzimuths
// the measured azimuths are replaced by an even sweep starting at the
// first measured azimuth.
func DecodeImage(img image.Image, encoderSize int, fixAzimuths bool) (*Scan, error) {
	b := img.Bounds()
	rows, width := b.Dy(), b.Dx()
	if rows == 0 || width <= powerOffset {
		return nil, fmt.Errorf("%w: %dx%d image has no power samples", ErrMalformedScan, rows, width)
	}

	bins := width - powerOffset
	scan := &Scan{
		Timestamps: make([]int64, rows),
		Azimuths:   make([]float64, rows),
		Encoders:   make([]uint16, rows),
		Valid:      make([]bool, rows),
		Power:      mat.NewDense(rows, bins, nil),
	}

	row := make([]byte, width)
	for i := 0; i < rows; i++ {
		grayRow(img, b.Min.Y+i, row)
		scan.Timestamps[i] = int64(binary.LittleEndian.Uint64(row[:timestampBytes]))
		scan.Encoders[i] = binary.LittleEndian.Uint16(row[encoderOffset:validOffset])
		scan.Azimuths[i] = float64(scan.Encoders[i]) / float64(encoderSize) * 2 * math.Pi
		scan.Valid[i] = row[validOffset] == 255
		for j := 0; j < bins; j++ {
			scan.Power.Set(i, j, float64(row[powerOffset+j])/255)
		}
	}

	if fixAzimuths {
		FixAzimuths(scan.Azimuths)
	}
	return scan, nil
}

// FixAzimuths overwrites azimuths with an evenly spaced sweep of one
// revolution starting at azimuths[0].
func FixAzimuths(azimuths []float64) {
	if len(azimuths) == 0 {
		return
	}
	start := azimuths[0]
	step := 2 * math.Pi / float64(len(azimuths))
	for i := range azimuths {
		azimuths[i] = start + float64(i)*step
	}
}

func grayRow(img image.Image, y int, dst []byte) {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok {
		off := g.PixOffset(b.Min.X, y)
		copy(dst, g.Pix[off:off+len(dst)])
		return
	}
	for x := 0; x < len(dst); x++ {
		dst[x] = color.GrayModel.Convert(img.At(b.Min.X+x, y)).(color.Gray).Y
	}
}

// EncodeImage is the inverse of DecodeImage. Power values are clamped to
// [0, 1] and quantised to bytes.
func EncodeImage(s *Scan) (*image.Gray, error) {
	rows, bins := s.Rows(), s.RangeBins()
	if rows == 0 {
		return nil, fmt.Errorf("%w: empty scan", ErrMalformedScan)
	}
	if len(s.Timestamps) != rows || len(s.Encoders) != rows || len(s.Valid) != rows {
		return nil, fmt.Errorf("%w: metadata length does not match %d rows", ErrMalformedScan, rows)
	}
	img := image.NewGray(image.Rect(0, 0, powerOffset+bins, rows))
	for i := 0; i < rows; i++ {
		row := img.Pix[i*img.Stride : i*img.Stride+powerOffset+bins]
		binary.LittleEndian.PutUint64(row[:timestampBytes], uint64(s.Timestamps[i]))
		binary.LittleEndian.PutUint16(row[encoderOffset:validOffset], s.Encoders[i])
		if s.Valid[i] {
			row[validOffset] = 255
		}
		for j := 0; j < bins; j++ {
			v := math.Max(0, math.Min(1, s.Power.At(i, j)))
			row[powerOffset+j] = byte(math.Round(v * 255))
		}
	}
	return img, nil
}

// WriteScan encodes s as a PNG at path.
func WriteScan(fsys fsutil.FileSystem, path string, s *Scan) error {
	img, err := EncodeImage(s)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode radar scan: %w", err)
	}
	return fsys.WriteFile(path, buf.Bytes(), 0644)
}
