package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/occupancy.report/internal/doorway"
	"github.com/banshee-data/occupancy.report/internal/serialmux"
	"github.com/banshee-data/occupancy.report/internal/tof/vl53l1x"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

// DefaultCounterConfigPath is where cmd/counter looks for its config when no
// -config flag is given.
const DefaultCounterConfigPath = "config/counter.json"

// Default values used by the Get* accessors when a field is unset.
const (
	DefaultDoorThresholdMM       = 300
	DefaultPersonThresholdMM     = 1400
	DefaultWindowSize            = 10
	DefaultRangingTimeout        = 500 * time.Millisecond
	DefaultPollInterval          = 50 * time.Millisecond
	DefaultOccupancyLimit        = 10
	DefaultCalibrationRetryDelay = 10 * time.Second
	DefaultCalibrationAttempts   = 2

	DefaultI2CAddress         = 0x29
	DefaultInnerOpticalCenter = 167
	DefaultOuterOpticalCenter = 231
	DefaultROIWidth           = 8
	DefaultROIHeight          = 16
	DefaultZoneSettle         = time.Millisecond
	DefaultDistanceMode       = "long"
	DefaultTimingBudget       = 33 * time.Millisecond
	DefaultSigmaThresholdMM   = 40
	DefaultSignalThreshold    = 1000

	DefaultSerialPort = "/dev/ttyACM0"
	DefaultBaudRate   = 115200
)

// CounterConfig is the root configuration of the doorway counter. Every field
// is optional; the Get* methods supply defaults so partial files are safe.
type CounterConfig struct {
	// Occupancy classification
	DoorThresholdMM   *int    `json:"door_threshold_mm,omitempty"`
	PersonThresholdMM *int    `json:"person_threshold_mm,omitempty"`
	WindowSize        *int    `json:"window_size,omitempty"`
	RangingTimeout    *string `json:"ranging_timeout,omitempty"` // duration string like "500ms"
	PollInterval      *string `json:"poll_interval,omitempty"`

	// Counting
	DefaultOccupancyLimit *int `json:"default_occupancy_limit,omitempty"`
	InitialCount          *int `json:"initial_count,omitempty"`

	// Startup calibration and failure handling
	CalibrationRetryDelay  *string `json:"calibration_retry_delay,omitempty"`
	CalibrationAttempts    *int    `json:"calibration_attempts,omitempty"`
	MaxConsecutiveFailures *int    `json:"max_consecutive_failures,omitempty"`

	Sensor *SensorConfig `json:"sensor,omitempty"`
	Serial *SerialConfig `json:"serial,omitempty"`

	Debug *bool `json:"debug,omitempty"`
}

// SensorConfig describes a VL53L1X attached over I2C. Each zone is a region of
// interest on the SPAD array selected by its optical center.
type SensorConfig struct {
	I2CBus             *string `json:"i2c_bus,omitempty"`
	I2CAddress         *int    `json:"i2c_address,omitempty"`
	InnerOpticalCenter *int    `json:"inner_optical_center,omitempty"`
	OuterOpticalCenter *int    `json:"outer_optical_center,omitempty"`
	ROIWidth           *int    `json:"roi_width,omitempty"`
	ROIHeight          *int    `json:"roi_height,omitempty"`
	ZoneSettle         *string `json:"zone_settle,omitempty"`

	// Ranging, applied once after the device boots
	DistanceMode        *string `json:"distance_mode,omitempty"` // "short" or "long"
	TimingBudget        *string `json:"timing_budget,omitempty"` // one of 15ms (short only), 20ms, 33ms, 50ms, 100ms, 200ms, 500ms
	SigmaThresholdMM    *int    `json:"sigma_threshold_mm,omitempty"`
	SignalThresholdKcps *int    `json:"signal_threshold_kcps,omitempty"`
}

// SerialConfig describes a serial range bridge.
type SerialConfig struct {
	Port     *string `json:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`
}

// EmptyCounterConfig returns a CounterConfig with every field unset.
func EmptyCounterConfig() *CounterConfig {
	return &CounterConfig{}
}

// LoadCounterConfig loads a CounterConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCounterConfig(path string) (*CounterConfig, error) {
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

	cfg := EmptyCounterConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the values that are set, and the relationships between
// them once defaults are applied.
func (c *CounterConfig) Validate() error {
	if c.DoorThresholdMM != nil && *c.DoorThresholdMM < 0 {
		return fmt.Errorf("door_threshold_mm must be non-negative, got %d", *c.DoorThresholdMM)
	}
	if c.PersonThresholdMM != nil && *c.PersonThresholdMM <= 0 {
		return fmt.Errorf("person_threshold_mm must be positive, got %d", *c.PersonThresholdMM)
	}
	if door, person := c.GetDoorThresholdMM(), c.GetPersonThresholdMM(); door >= person {
		return fmt.Errorf("door_threshold_mm (%d) must be below person_threshold_mm (%d)", door, person)
	}
	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1, got %d", *c.WindowSize)
	}
	if c.CalibrationAttempts != nil && *c.CalibrationAttempts < 1 {
		return fmt.Errorf("calibration_attempts must be at least 1, got %d", *c.CalibrationAttempts)
	}
	if c.MaxConsecutiveFailures != nil && *c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max_consecutive_failures must be non-negative, got %d", *c.MaxConsecutiveFailures)
	}

	for name, v := range map[string]*string{
		"ranging_timeout":         c.RangingTimeout,
		"poll_interval":           c.PollInterval,
		"calibration_retry_delay": c.CalibrationRetryDelay,
	} {
		if err := validateDuration(name, v); err != nil {
			return err
		}
	}

	if s := c.Sensor; s != nil {
		if err := s.validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

func (s *SensorConfig) validate() error {
	for name, v := range map[string]*int{
		"sensor.inner_optical_center": s.InnerOpticalCenter,
		"sensor.outer_optical_center": s.OuterOpticalCenter,
	} {
		if v != nil && (*v < 0 || *v > 255) {
			return fmt.Errorf("%s must be between 0 and 255, got %d", name, *v)
		}
	}
	for name, v := range map[string]*int{
		"sensor.roi_width":  s.ROIWidth,
		"sensor.roi_height": s.ROIHeight,
	} {
		if v != nil && (*v < 4 || *v > 16) {
			return fmt.Errorf("%s must be between 4 and 16, got %d", name, *v)
		}
	}
	if s.I2CAddress != nil && (*s.I2CAddress < 0x08 || *s.I2CAddress > 0x77) {
		return fmt.Errorf("sensor.i2c_address 0x%x is outside the 7-bit range", *s.I2CAddress)
	}
	for name, v := range map[string]*string{
		"sensor.zone_settle":   s.ZoneSettle,
		"sensor.timing_budget": s.TimingBudget,
	} {
		if err := validateDuration(name, v); err != nil {
			return err
		}
	}
	settings, err := s.Settings()
	if err != nil {
		return fmt.Errorf("sensor.distance_mode: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid sensor ranging settings: %w", err)
	}
	return nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetDoorThresholdMM returns door_threshold_mm or the default.
func (c *CounterConfig) GetDoorThresholdMM() int {
	return intOr(c.DoorThresholdMM, DefaultDoorThresholdMM)
}

// GetPersonThresholdMM returns person_threshold_mm or the default.
func (c *CounterConfig) GetPersonThresholdMM() int {
	return intOr(c.PersonThresholdMM, DefaultPersonThresholdMM)
}

// GetWindowSize returns window_size or the default.
func (c *CounterConfig) GetWindowSize() int {
	return intOr(c.WindowSize, DefaultWindowSize)
}

// GetRangingTimeout returns ranging_timeout or the default.
func (c *CounterConfig) GetRangingTimeout() time.Duration {
	return durationOr(c.RangingTimeout, DefaultRangingTimeout)
}

// GetPollInterval returns poll_interval or the default.
func (c *CounterConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, DefaultPollInterval)
}

// GetDefaultOccupancyLimit returns default_occupancy_limit or the default.
func (c *CounterConfig) GetDefaultOccupancyLimit() int {
	return intOr(c.DefaultOccupancyLimit, DefaultOccupancyLimit)
}

// GetInitialCount returns initial_count or zero.
func (c *CounterConfig) GetInitialCount() int {
	return intOr(c.InitialCount, 0)
}

// GetCalibrationRetryDelay returns calibration_retry_delay or the default.
func (c *CounterConfig) GetCalibrationRetryDelay() time.Duration {
	return durationOr(c.CalibrationRetryDelay, DefaultCalibrationRetryDelay)
}

// GetCalibrationAttempts returns calibration_attempts or the default.
func (c *CounterConfig) GetCalibrationAttempts() int {
	return intOr(c.CalibrationAttempts, DefaultCalibrationAttempts)
}

// GetMaxConsecutiveFailures returns max_consecutive_failures; zero means the
// monitor never gives up.
func (c *CounterConfig) GetMaxConsecutiveFailures() int {
	return intOr(c.MaxConsecutiveFailures, 0)
}

// GetDebug returns debug or false.
func (c *CounterConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

// GetSensor returns the sensor block, never nil.
func (c *CounterConfig) GetSensor() *SensorConfig {
	if c.Sensor == nil {
		return &SensorConfig{}
	}
	return c.Sensor
}

// GetSerial returns the serial block, never nil.
func (c *CounterConfig) GetSerial() *SerialConfig {
	if c.Serial == nil {
		return &SerialConfig{}
	}
	return c.Serial
}

// EstimatorConfig converts the classification settings for zone.NewEstimator.
func (c *CounterConfig) EstimatorConfig() zone.Config {
	return zone.Config{
		Thresholds: zone.Thresholds{
			DoorMM:   c.GetDoorThresholdMM(),
			PersonMM: c.GetPersonThresholdMM(),
		},
		WindowSize:     c.GetWindowSize(),
		RangingTimeout: c.GetRangingTimeout(),
	}
}

// MonitorConfig converts the loop timing for doorway.NewMonitor.
func (c *CounterConfig) MonitorConfig() doorway.Config {
	return doorway.Config{
		PollInterval:           c.GetPollInterval(),
		CalibrationRetryDelay:  c.GetCalibrationRetryDelay(),
		CalibrationAttempts:    c.GetCalibrationAttempts(),
		MaxConsecutiveFailures: c.GetMaxConsecutiveFailures(),
	}
}

// GetI2CBus returns the periph bus name; empty selects the first bus.
func (s *SensorConfig) GetI2CBus() string {
	if s.I2CBus == nil {
		return ""
	}
	return *s.I2CBus
}

// GetI2CAddress returns i2c_address or 0x29.
func (s *SensorConfig) GetI2CAddress() uint16 {
	return uint16(intOr(s.I2CAddress, DefaultI2CAddress))
}

// GetOpticalCenters returns the SPAD optical centers of the inner and outer
// zones.
func (s *SensorConfig) GetOpticalCenters() [2]uint8 {
	return [2]uint8{
		uint8(intOr(s.InnerOpticalCenter, DefaultInnerOpticalCenter)),
		uint8(intOr(s.OuterOpticalCenter, DefaultOuterOpticalCenter)),
	}
}

// GetROI returns the region of interest width and height in SPADs.
func (s *SensorConfig) GetROI() (width, height int) {
	return intOr(s.ROIWidth, DefaultROIWidth), intOr(s.ROIHeight, DefaultROIHeight)
}

// GetZoneSettle returns the pause after switching the ROI before ranging.
func (s *SensorConfig) GetZoneSettle() time.Duration {
	return durationOr(s.ZoneSettle, DefaultZoneSettle)
}

// GetDistanceMode returns distance_mode or "long".
func (s *SensorConfig) GetDistanceMode() string {
	if s.DistanceMode == nil || *s.DistanceMode == "" {
		return DefaultDistanceMode
	}
	return *s.DistanceMode
}

// GetTimingBudget returns timing_budget or 33ms.
func (s *SensorConfig) GetTimingBudget() time.Duration {
	return durationOr(s.TimingBudget, DefaultTimingBudget)
}

// GetSigmaThresholdMM returns sigma_threshold_mm or the default.
func (s *SensorConfig) GetSigmaThresholdMM() int {
	return intOr(s.SigmaThresholdMM, DefaultSigmaThresholdMM)
}

// GetSignalThresholdKcps returns signal_threshold_kcps or the default.
func (s *SensorConfig) GetSignalThresholdKcps() int {
	return intOr(s.SignalThresholdKcps, DefaultSignalThreshold)
}

// Settings converts the ranging block for vl53l1x.Dev.Configure. Only the
// distance mode can fail to convert.
func (s *SensorConfig) Settings() (vl53l1x.Settings, error) {
	mode, err := vl53l1x.ParseDistanceMode(s.GetDistanceMode())
	if err != nil {
		return vl53l1x.Settings{}, err
	}
	return vl53l1x.Settings{
		DistanceMode:        mode,
		TimingBudget:        s.GetTimingBudget(),
		SigmaThresholdMM:    s.GetSigmaThresholdMM(),
		SignalThresholdKcps: s.GetSignalThresholdKcps(),
	}, nil
}

// GetPort returns the serial device path or the default.
func (s *SerialConfig) GetPort() string {
	if s.Port == nil || *s.Port == "" {
		return DefaultSerialPort
	}
	return *s.Port
}

// GetBaudRate returns baud_rate or the default.
func (s *SerialConfig) GetBaudRate() int {
	return intOr(s.BaudRate, DefaultBaudRate)
}

// GetDataBits returns data_bits, or zero to let the port apply its default.
func (s *SerialConfig) GetDataBits() int {
	return intOr(s.DataBits, 0)
}

// GetStopBits returns stop_bits, or zero to let the port apply its default.
func (s *SerialConfig) GetStopBits() int {
	return intOr(s.StopBits, 0)
}

// GetParity returns parity, or empty for none.
func (s *SerialConfig) GetParity() string {
	if s.Parity == nil {
		return ""
	}
	return *s.Parity
}

// PortOptions converts the serial block for serialmux.NewRealSerialMux.
func (s *SerialConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: s.GetBaudRate(),
		DataBits: s.GetDataBits(),
		StopBits: s.GetStopBits(),
		Parity:   s.GetParity(),
	}
}
