package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/roisep/internal/separation"
)

// DefaultConfigPath is the path to the canonical separation defaults file.
const DefaultConfigPath = "config/separation.defaults.json"

// MethodNMF selects the elastic-net NMF separator.
const MethodNMF = "nmf"

// SeparationConfig holds the run's tunable parameters. Every field is a
// pointer so that a partial file overrides only what it names; the Get*
// methods fall back to defaults for the rest.
type SeparationConfig struct {
	// Input
	InputKey *string `json:"input_key,omitempty"`

	// Separator params
	Method        *string  `json:"method,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`
	MaxTries      *int     `json:"max_tries,omitempty"`
	Tolerance     *float64 `json:"tolerance,omitempty"`
	Alpha         *float64 `json:"alpha,omitempty"`
	L1Ratio       *float64 `json:"l1_ratio,omitempty"`
	RandomState   *int64   `json:"random_state,omitempty"`

	// Dispatch params
	Workers    *int    `json:"workers,omitempty"`
	ROITimeout *string `json:"roi_timeout,omitempty"` // duration string like "30s"; empty means none
	FailFast   *bool   `json:"fail_fast,omitempty"`

	// Output params
	CompressOutput *bool `json:"compress_output,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptySeparationConfig returns a config with every field unset.
func EmptySeparationConfig() *SeparationConfig {
	return &SeparationConfig{}
}

// DefaultSeparationConfig returns a config with every field set to its
// default value.
func DefaultSeparationConfig() *SeparationConfig {
	p := separation.DefaultParams()
	return &SeparationConfig{
		InputKey:       ptrString(DefaultInputKey),
		Method:         ptrString(MethodNMF),
		MaxIterations:  ptrInt(p.MaxIterations),
		MaxTries:       ptrInt(p.MaxTries),
		Tolerance:      ptrFloat64(p.Tolerance),
		Alpha:          ptrFloat64(p.Alpha),
		L1Ratio:        ptrFloat64(p.L1Ratio),
		RandomState:    ptrInt64(p.RandomState),
		Workers:        ptrInt(1),
		ROITimeout:     ptrString(""),
		FailFast:       ptrBool(true),
		CompressOutput: ptrBool(true),
	}
}

// DefaultInputKey is the variable the upstream extraction step writes.
const DefaultInputKey = "extractedSignals"

// LoadSeparationConfig loads a SeparationConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults.
func LoadSeparationConfig(path string) (*SeparationConfig, error) {
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

	cfg := EmptySeparationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *SeparationConfig) Validate() error {
	if c.InputKey != nil && *c.InputKey == "" {
		return fmt.Errorf("input_key must not be empty")
	}
	if c.Method != nil && *c.Method != MethodNMF {
		return fmt.Errorf("unknown method %q (supported: %s)", *c.Method, MethodNMF)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.ROITimeout != nil && *c.ROITimeout != "" {
		d, err := time.ParseDuration(*c.ROITimeout)
		if err != nil {
			return fmt.Errorf("invalid roi_timeout '%s': %w", *c.ROITimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("roi_timeout must be non-negative, got %s", d)
		}
	}
	return c.NMFParams().Validate()
}

// NMFParams assembles separator parameters from the config.
func (c *SeparationConfig) NMFParams() separation.Params {
	return separation.Params{
		MaxIterations: c.GetMaxIterations(),
		MaxTries:      c.GetMaxTries(),
		Tolerance:     c.GetTolerance(),
		Alpha:         c.GetAlpha(),
		L1Ratio:       c.GetL1Ratio(),
		RandomState:   c.GetRandomState(),
	}
}

// GetInputKey returns the input_key value or the default.
func (c *SeparationConfig) GetInputKey() string {
	if c.InputKey == nil || *c.InputKey == "" {
		return DefaultInputKey
	}
	return *c.InputKey
}

// GetMethod returns the method value or the default.
func (c *SeparationConfig) GetMethod() string {
	if c.Method == nil {
		return MethodNMF
	}
	return *c.Method
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *SeparationConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return separation.DefaultParams().MaxIterations
	}
	return *c.MaxIterations
}

// GetMaxTries returns the max_tries value or the default.
func (c *SeparationConfig) GetMaxTries() int {
	if c.MaxTries == nil {
		return separation.DefaultParams().MaxTries
	}
	return *c.MaxTries
}

// GetTolerance returns the tolerance value or the default.
func (c *SeparationConfig) GetTolerance() float64 {
	if c.Tolerance == nil {
		return separation.DefaultParams().Tolerance
	}
	return *c.Tolerance
}

// GetAlpha returns the alpha value or the default.
func (c *SeparationConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return separation.DefaultParams().Alpha
	}
	return *c.Alpha
}

// GetL1Ratio returns the l1_ratio value or the default.
func (c *SeparationConfig) GetL1Ratio() float64 {
	if c.L1Ratio == nil {
		return separation.DefaultParams().L1Ratio
	}
	return *c.L1Ratio
}

// GetRandomState returns the random_state value or the default.
func (c *SeparationConfig) GetRandomState() int64 {
	if c.RandomState == nil {
		return separation.DefaultParams().RandomState
	}
	return *c.RandomState
}

// GetWorkers returns the workers value or the default.
func (c *SeparationConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetROITimeout parses and returns the per-ROI time limit; zero means none.
func (c *SeparationConfig) GetROITimeout() time.Duration {
	if c.ROITimeout == nil || *c.ROITimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.ROITimeout)
	if err != nil || d < 0 {
		return 0 // default on parse error
	}
	return d
}

// GetFailFast returns the fail_fast value or the default.
func (c *SeparationConfig) GetFailFast() bool {
	if c.FailFast == nil {
		return true
	}
	return *c.FailFast
}

// GetCompressOutput returns the compress_output value or the default.
func (c *SeparationConfig) GetCompressOutput() bool {
	if c.CompressOutput == nil {
		return true
	}
	return *c.CompressOutput
}
