package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical calibration defaults file.
const DefaultConfigPath = "config/calibration.defaults.json"

// CalibrationConfig is the root configuration for a calibration run.
// Every field is optional; the Get* accessors supply the default for
// anything left out of the JSON, so partial files are safe.
type CalibrationConfig struct {
	// Radar decoding
	RadarResolution *float64 `json:"radar_resolution,omitempty"` // metres per range bin
	AzimuthBins     *int     `json:"azimuth_bins,omitempty"`     // azimuths per radar rotation
	EncoderSize     *int     `json:"encoder_size,omitempty"`     // encoder counts per rotation
	FixAzimuths     *bool    `json:"fix_azimuths,omitempty"`

	// Sensor mount offset applied to every lidar point before rasterizing
	XOffset *float64 `json:"x_offset,omitempty"`
	YOffset *float64 `json:"y_offset,omitempty"`

	// Radar feature detection
	FeatureStd      *float64 `json:"feature_std,omitempty"`
	FeatureMinRange *int     `json:"feature_min_range,omitempty"` // range bins zeroed before detection
	FeatureSigma    *float64 `json:"feature_sigma,omitempty"`

	// Rasterization
	MaxRange         *float64 `json:"max_range,omitempty"` // metres
	UpsampleAzimuths *int     `json:"upsample_azimuths,omitempty"`
	HeightMin        *float64 `json:"height_min,omitempty"`
	HeightMax        *float64 `json:"height_max,omitempty"`

	// Translation estimation
	CalibrateTranslation  *bool    `json:"calibrate_translation,omitempty"`
	TranslationResolution *float64 `json:"translation_resolution,omitempty"`

	// Diagnostics
	Visualize         *bool    `json:"visualize,omitempty"`
	LightMode         *bool    `json:"light_mode,omitempty"`
	OutputDir         *string  `json:"output_dir,omitempty"`
	OverlayResolution *float64 `json:"overlay_resolution,omitempty"`
	OverlayPixelWidth *int     `json:"overlay_pixel_width,omitempty"`

	// Execution
	Workers         *int    `json:"workers,omitempty"`
	FrameTimeout    *string `json:"frame_timeout,omitempty"` // duration string like "30s"; empty disables
	SkipDegenerate  *bool   `json:"skip_degenerate,omitempty"`
	PairByTimestamp *bool   `json:"pair_by_timestamp,omitempty"`
	DBPath          *string `json:"db_path,omitempty"`
}

// Ptr returns a pointer to v. It is used to populate optional fields.
func Ptr[T any](v T) *T { return &v }

// EmptyCalibrationConfig returns a CalibrationConfig with all fields set to nil.
func EmptyCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{}
}

// DefaultCalibrationConfig returns a config with every field populated
// with its default value.
func DefaultCalibrationConfig() *CalibrationConfig {
	c := EmptyCalibrationConfig()
	return &CalibrationConfig{
		RadarResolution:       Ptr(c.GetRadarResolution()),
		AzimuthBins:           Ptr(c.GetAzimuthBins()),
		EncoderSize:           Ptr(c.GetEncoderSize()),
		FixAzimuths:           Ptr(c.GetFixAzimuths()),
		XOffset:               Ptr(c.GetXOffset()),
		YOffset:               Ptr(c.GetYOffset()),
		FeatureStd:            Ptr(c.GetFeatureStd()),
		FeatureMinRange:       Ptr(c.GetFeatureMinRange()),
		FeatureSigma:          Ptr(c.GetFeatureSigma()),
		MaxRange:              Ptr(c.GetMaxRange()),
		UpsampleAzimuths:      Ptr(c.GetUpsampleAzimuths()),
		HeightMin:             Ptr(c.GetHeightMin()),
		HeightMax:             Ptr(c.GetHeightMax()),
		CalibrateTranslation:  Ptr(c.GetCalibrateTranslation()),
		TranslationResolution: Ptr(c.GetTranslationResolution()),
		Visualize:             Ptr(c.GetVisualize()),
		LightMode:             Ptr(c.GetLightMode()),
		OutputDir:             Ptr(c.GetOutputDir()),
		OverlayResolution:     Ptr(c.GetOverlayResolution()),
		OverlayPixelWidth:     Ptr(c.GetOverlayPixelWidth()),
		Workers:               Ptr(c.GetWorkers()),
		FrameTimeout:          Ptr(""),
		SkipDegenerate:        Ptr(c.GetSkipDegenerate()),
		PairByTimestamp:       Ptr(c.GetPairByTimestamp()),
		DBPath:                Ptr(c.GetDBPath()),
	}
}

// LoadCalibrationConfig loads a CalibrationConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCalibrationConfig(path string) (*CalibrationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCalibrationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded; intended for test setup.
func MustLoadDefaultConfig() *CalibrationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCalibrationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *CalibrationConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"radar_resolution", c.RadarResolution},
		{"max_range", c.MaxRange},
		{"translation_resolution", c.TranslationResolution},
		{"overlay_resolution", c.OverlayResolution},
		{"feature_sigma", c.FeatureSigma},
	}
	for _, p := range positive {
		if p.v != nil && !(*p.v > 0) {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}

	if c.AzimuthBins != nil && *c.AzimuthBins <= 0 {
		return fmt.Errorf("azimuth_bins must be positive, got %d", *c.AzimuthBins)
	}
	if c.EncoderSize != nil && *c.EncoderSize <= 0 {
		return fmt.Errorf("encoder_size must be positive, got %d", *c.EncoderSize)
	}
	if c.UpsampleAzimuths != nil && *c.UpsampleAzimuths < 1 {
		return fmt.Errorf("upsample_azimuths must be at least 1, got %d", *c.UpsampleAzimuths)
	}
	if c.FeatureMinRange != nil && *c.FeatureMinRange < 0 {
		return fmt.Errorf("feature_min_range must be non-negative, got %d", *c.FeatureMinRange)
	}
	if c.OverlayPixelWidth != nil && *c.OverlayPixelWidth <= 0 {
		return fmt.Errorf("overlay_pixel_width must be positive, got %d", *c.OverlayPixelWidth)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.GetHeightMin() > c.GetHeightMax() {
		return fmt.Errorf("height_min (%f) must not exceed height_max (%f)", c.GetHeightMin(), c.GetHeightMax())
	}

	if c.FrameTimeout != nil && *c.FrameTimeout != "" {
		d, err := time.ParseDuration(*c.FrameTimeout)
		if err != nil {
			return fmt.Errorf("invalid frame_timeout '%s': %w", *c.FrameTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("frame_timeout must be non-negative, got %s", d)
		}
	}

	return nil
}

// GetRadarResolution returns the radar range resolution in metres per bin.
func (c *CalibrationConfig) GetRadarResolution() float64 {
	if c.RadarResolution == nil {
		return 0.0438
	}
	return *c.RadarResolution
}

// GetAzimuthBins returns the number of azimuths per radar rotation.
func (c *CalibrationConfig) GetAzimuthBins() int {
	if c.AzimuthBins == nil {
		return 400
	}
	return *c.AzimuthBins
}

// GetEncoderSize returns the encoder counts per full rotation.
func (c *CalibrationConfig) GetEncoderSize() int {
	if c.EncoderSize == nil {
		return 5600
	}
	return *c.EncoderSize
}

// GetFixAzimuths returns the fix_azimuths value or the default.
func (c *CalibrationConfig) GetFixAzimuths() bool {
	if c.FixAzimuths == nil {
		return false
	}
	return *c.FixAzimuths
}

// GetXOffset returns the lidar mount x offset in metres.
func (c *CalibrationConfig) GetXOffset() float64 {
	if c.XOffset == nil {
		return 0.4
	}
	return *c.XOffset
}

// GetYOffset returns the lidar mount y offset in metres.
func (c *CalibrationConfig) GetYOffset() float64 {
	if c.YOffset == nil {
		return -0.15
	}
	return *c.YOffset
}

// GetFeatureStd returns the detection threshold in noise standard deviations.
func (c *CalibrationConfig) GetFeatureStd() float64 {
	if c.FeatureStd == nil {
		return 3.0
	}
	return *c.FeatureStd
}

// GetFeatureMinRange returns the number of near range bins ignored by detection.
func (c *CalibrationConfig) GetFeatureMinRange() int {
	if c.FeatureMinRange == nil {
		return 58
	}
	return *c.FeatureMinRange
}

// GetFeatureSigma returns the Gaussian smoothing width in range bins.
func (c *CalibrationConfig) GetFeatureSigma() float64 {
	if c.FeatureSigma == nil {
		return 17
	}
	return *c.FeatureSigma
}

// GetMaxRange returns the range crop in metres.
func (c *CalibrationConfig) GetMaxRange() float64 {
	if c.MaxRange == nil {
		return 100
	}
	return *c.MaxRange
}

// GetUpsampleAzimuths returns the azimuth upsampling factor.
func (c *CalibrationConfig) GetUpsampleAzimuths() int {
	if c.UpsampleAzimuths == nil {
		return 2
	}
	return *c.UpsampleAzimuths
}

// GetHeightMin returns the lower edge of the lidar height band.
func (c *CalibrationConfig) GetHeightMin() float64 {
	if c.HeightMin == nil {
		return 0
	}
	return *c.HeightMin
}

// GetHeightMax returns the upper edge of the lidar height band.
func (c *CalibrationConfig) GetHeightMax() float64 {
	if c.HeightMax == nil {
		return 0.5
	}
	return *c.HeightMax
}

// GetCalibrateTranslation returns the calibrate_translation value or the default.
func (c *CalibrationConfig) GetCalibrateTranslation() bool {
	if c.CalibrateTranslation == nil {
		return false
	}
	return *c.CalibrateTranslation
}

// GetTranslationResolution returns the cartesian resolution used for the
// translation pass. Defaults to the radar resolution.
func (c *CalibrationConfig) GetTranslationResolution() float64 {
	if c.TranslationResolution == nil {
		return c.GetRadarResolution()
	}
	return *c.TranslationResolution
}

// GetVisualize returns the visualize value or the default.
func (c *CalibrationConfig) GetVisualize() bool {
	if c.Visualize == nil {
		return true
	}
	return *c.Visualize
}

// GetLightMode returns the light_mode value or the default.
func (c *CalibrationConfig) GetLightMode() bool {
	if c.LightMode == nil {
		return false
	}
	return *c.LightMode
}

// GetOutputDir returns the directory for plots and overlay images.
func (c *CalibrationConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "figs"
	}
	return *c.OutputDir
}

// GetOverlayResolution returns the cartesian resolution of overlay images.
func (c *CalibrationConfig) GetOverlayResolution() float64 {
	if c.OverlayResolution == nil {
		return 0.25
	}
	return *c.OverlayResolution
}

// GetOverlayPixelWidth returns the width of overlay images in pixels.
func (c *CalibrationConfig) GetOverlayPixelWidth() int {
	if c.OverlayPixelWidth == nil {
		return 800
	}
	return *c.OverlayPixelWidth
}

// GetWorkers returns the number of frames processed concurrently.
// Zero is treated as one.
func (c *CalibrationConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers < 1 {
		return 1
	}
	return *c.Workers
}

// GetFrameTimeout parses and returns the per-frame timeout. Zero means no timeout.
func (c *CalibrationConfig) GetFrameTimeout() time.Duration {
	if c.FrameTimeout == nil || *c.FrameTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.FrameTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetSkipDegenerate returns the skip_degenerate value or the default.
func (c *CalibrationConfig) GetSkipDegenerate() bool {
	if c.SkipDegenerate == nil {
		return false
	}
	return *c.SkipDegenerate
}

// GetPairByTimestamp returns the pair_by_timestamp value or the default.
func (c *CalibrationConfig) GetPairByTimestamp() bool {
	if c.PairByTimestamp == nil {
		return false
	}
	return *c.PairByTimestamp
}

// GetDBPath returns the run-history database path; empty disables it.
func (c *CalibrationConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// RangeBins is the number of radar range bins kept after cropping to max_range.
// The cartesian images used for rotation share this width.
func (c *CalibrationConfig) RangeBins() int {
	return int(c.GetMaxRange() / c.GetRadarResolution())
}

// TranslationPixelWidth is the width of the cartesian images used by the
// translation pass, covering twice max_range.
func (c *CalibrationConfig) TranslationPixelWidth() int {
	return int(2 * c.GetMaxRange() / c.GetTranslationResolution())
}

// AzimuthStep is the angle in radians covered by one row of the upsampled
// polar image.
func (c *CalibrationConfig) AzimuthStep() float64 {
	return 2 * math.Pi / float64(c.GetAzimuthBins()*c.GetUpsampleAzimuths())
}
