// Package config loads the motion-generation node configuration.
//
// Every field is optional: an omitted field falls back to the default
// returned by its Get* accessor, so a partial file only needs the values it
// overrides. Files may be JSON or TOML; both use the same snake_case keys.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/banshee-data/motiongen/internal/fsutil"
	"github.com/banshee-data/motiongen/internal/spline"
)

// DefaultConfigPath is the canonical defaults file, relative to the
// repository root.
const DefaultConfigPath = "config/motiongen.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// NodeConfig is the root configuration. Durations are strings such as
// "10ms".
type NodeConfig struct {
	// Loop timing
	ControlPeriod  *string `json:"control_period,omitempty" toml:"control_period"`
	ZeroTime       *string `json:"zero_time,omitempty" toml:"zero_time"`
	InitDuration   *string `json:"init_duration,omitempty" toml:"init_duration"`
	StartupTimeout *string `json:"startup_timeout,omitempty" toml:"startup_timeout"`
	BarrierPoll    *string `json:"barrier_poll,omitempty" toml:"barrier_poll"`

	// Startup trajectory
	InitStartHeight *float64 `json:"init_start_height,omitempty" toml:"init_start_height"`
	SteadyHeight    *float64 `json:"steady_height,omitempty" toml:"steady_height"`
	Interpolation   *string  `json:"interpolation,omitempty" toml:"interpolation"`

	// Acceleration estimate
	FilterOrder         *int     `json:"filter_order,omitempty" toml:"filter_order"`
	FilterBeta          *float64 `json:"filter_beta,omitempty" toml:"filter_beta"`
	GravityCompensation *bool    `json:"gravity_compensation,omitempty" toml:"gravity_compensation"`

	// Default velocity command
	VelocityForward *float64 `json:"velocity_forward,omitempty" toml:"velocity_forward"`
	VelocityLateral *float64 `json:"velocity_lateral,omitempty" toml:"velocity_lateral"`
	YawRate         *float64 `json:"yaw_rate,omitempty" toml:"yaw_rate"`

	// Base link selection
	BaseLinkIndex *int    `json:"base_link_index,omitempty" toml:"base_link_index"`
	BaseLinkName  *string `json:"base_link_name,omitempty" toml:"base_link_name"`

	// Logging and recording
	LogLevel    *string `json:"log_level,omitempty" toml:"log_level"`
	LogFile     *string `json:"log_file,omitempty" toml:"log_file"`
	RecordEvery *int    `json:"record_every,omitempty" toml:"record_every"`
}

// Load reads a NodeConfig from a .json or .toml file on fsys and validates
// it.
func Load(fsys fsutil.FileSystem, path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &NodeConfig{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys: %v", undecoded)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. It panics when the file cannot be found and is meant
// for tests and main.
func MustLoadDefaultConfig() *NodeConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/motiongen/...
	}
	for _, path := range candidates {
		if cfg, err := Load(fsutil.OSFileSystem{}, path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks every field that is set.
func (c *NodeConfig) Validate() error {
	durations := []struct {
		name     string
		v        *string
		positive bool
	}{
		{"control_period", c.ControlPeriod, true},
		{"zero_time", c.ZeroTime, false},
		{"init_duration", c.InitDuration, true},
		{"startup_timeout", c.StartupTimeout, false},
		{"barrier_poll", c.BarrierPoll, true},
	}
	for _, d := range durations {
		if d.v == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed < 0 || (d.positive && parsed == 0) {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	if c.InitStartHeight != nil && *c.InitStartHeight <= 0 {
		return fmt.Errorf("init_start_height must be positive, got %f", *c.InitStartHeight)
	}
	if c.SteadyHeight != nil && *c.SteadyHeight <= 0 {
		return fmt.Errorf("steady_height must be positive, got %f", *c.SteadyHeight)
	}
	if c.Interpolation != nil {
		if _, err := spline.New(*c.Interpolation, time.Second); err != nil {
			return fmt.Errorf("invalid interpolation: %w", err)
		}
	}
	if c.FilterOrder != nil && (*c.FilterOrder < 1 || *c.FilterOrder > 3) {
		return fmt.Errorf("filter_order must be between 1 and 3, got %d", *c.FilterOrder)
	}
	if c.FilterBeta != nil && !(*c.FilterBeta > 0 && *c.FilterBeta < 1) {
		return fmt.Errorf("filter_beta must be between 0 and 1 (exclusive), got %f", *c.FilterBeta)
	}
	if c.BaseLinkIndex != nil && *c.BaseLinkIndex < 0 {
		return fmt.Errorf("base_link_index must be non-negative, got %d", *c.BaseLinkIndex)
	}
	if c.LogLevel != nil {
		if _, err := zerolog.ParseLevel(*c.LogLevel); err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
	}
	if c.RecordEvery != nil && *c.RecordEvery < 0 {
		return fmt.Errorf("record_every must be non-negative, got %d", *c.RecordEvery)
	}
	return nil
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

// GetControlPeriod returns control_period or 10ms.
func (c *NodeConfig) GetControlPeriod() time.Duration {
	return durationOr(c.ControlPeriod, 10*time.Millisecond)
}

// GetZeroTime returns zero_time or 0 (no HOLD window).
func (c *NodeConfig) GetZeroTime() time.Duration { return durationOr(c.ZeroTime, 0) }

// GetInitDuration returns init_duration or 500ms.
func (c *NodeConfig) GetInitDuration() time.Duration {
	return durationOr(c.InitDuration, 500*time.Millisecond)
}

// GetStartupTimeout returns startup_timeout or 30s. Zero means unbounded.
func (c *NodeConfig) GetStartupTimeout() time.Duration {
	return durationOr(c.StartupTimeout, 30*time.Second)
}

// GetBarrierPoll returns barrier_poll or 10ms.
func (c *NodeConfig) GetBarrierPoll() time.Duration {
	return durationOr(c.BarrierPoll, 10*time.Millisecond)
}

func (c *NodeConfig) GetInitStartHeight() float64 {
	if c.InitStartHeight == nil {
		return 0.6
	}
	return *c.InitStartHeight
}

func (c *NodeConfig) GetSteadyHeight() float64 {
	if c.SteadyHeight == nil {
		return 0.5
	}
	return *c.SteadyHeight
}

func (c *NodeConfig) GetInterpolation() string {
	if c.Interpolation == nil || *c.Interpolation == "" {
		return spline.MethodQuintic
	}
	return *c.Interpolation
}

func (c *NodeConfig) GetFilterOrder() int {
	if c.FilterOrder == nil {
		return 2
	}
	return *c.FilterOrder
}

func (c *NodeConfig) GetFilterBeta() float64 {
	if c.FilterBeta == nil {
		return 0.995
	}
	return *c.FilterBeta
}

func (c *NodeConfig) GetGravityCompensation() bool {
	if c.GravityCompensation == nil {
		return false
	}
	return *c.GravityCompensation
}

func (c *NodeConfig) GetVelocityForward() float64 {
	if c.VelocityForward == nil {
		return 0.1
	}
	return *c.VelocityForward
}

func (c *NodeConfig) GetVelocityLateral() float64 {
	if c.VelocityLateral == nil {
		return 0
	}
	return *c.VelocityLateral
}

func (c *NodeConfig) GetYawRate() float64 {
	if c.YawRate == nil {
		return 0
	}
	return *c.YawRate
}

// GetBaseLinkIndex returns base_link_index or 1, the first link after the
// ground plane in a simulator link list.
func (c *NodeConfig) GetBaseLinkIndex() int {
	if c.BaseLinkIndex == nil {
		return 1
	}
	return *c.BaseLinkIndex
}

func (c *NodeConfig) GetBaseLinkName() string {
	if c.BaseLinkName == nil {
		return ""
	}
	return *c.BaseLinkName
}

func (c *NodeConfig) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

func (c *NodeConfig) GetLogFile() string {
	if c.LogFile == nil {
		return ""
	}
	return *c.LogFile
}

// GetRecordEvery returns record_every or 1. Zero disables recording.
func (c *NodeConfig) GetRecordEvery() int {
	if c.RecordEvery == nil {
		return 1
	}
	return *c.RecordEvery
}
