package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/motiongen/internal/fsutil"
)

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &NodeConfig{}

	if got := cfg.GetControlPeriod(); got != 10*time.Millisecond {
		t.Errorf("GetControlPeriod() = %v, want 10ms", got)
	}
	if got := cfg.GetZeroTime(); got != 0 {
		t.Errorf("GetZeroTime() = %v, want 0", got)
	}
	if got := cfg.GetInitDuration(); got != 500*time.Millisecond {
		t.Errorf("GetInitDuration() = %v, want 500ms", got)
	}
	if got := cfg.GetStartupTimeout(); got != 30*time.Second {
		t.Errorf("GetStartupTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetInitStartHeight(); got != 0.6 {
		t.Errorf("GetInitStartHeight() = %v, want 0.6", got)
	}
	if got := cfg.GetSteadyHeight(); got != 0.5 {
		t.Errorf("GetSteadyHeight() = %v, want 0.5", got)
	}
	if got := cfg.GetFilterOrder(); got != 2 {
		t.Errorf("GetFilterOrder() = %d, want 2", got)
	}
	if got := cfg.GetFilterBeta(); got != 0.995 {
		t.Errorf("GetFilterBeta() = %v, want 0.995", got)
	}
	if got := cfg.GetVelocityForward(); got != 0.1 {
		t.Errorf("GetVelocityForward() = %v, want 0.1", got)
	}
	if got := cfg.GetBaseLinkIndex(); got != 1 {
		t.Errorf("GetBaseLinkIndex() = %d, want 1", got)
	}
	if got := cfg.GetInterpolation(); got != "quintic" {
		t.Errorf("GetInterpolation() = %q, want quintic", got)
	}
	if got := cfg.GetLogLevel(); got != "info" {
		t.Errorf("GetLogLevel() = %q, want info", got)
	}
	if got := cfg.GetRecordEvery(); got != 1 {
		t.Errorf("GetRecordEvery() = %d, want 1", got)
	}
	if cfg.GetGravityCompensation() {
		t.Error("GetGravityCompensation() = true, want false")
	}
}

// The defaults file and the Get* fallbacks must agree.
func TestDefaultsFileMatchesAccessors(t *testing.T) {
	file := MustLoadDefaultConfig()
	empty := &NodeConfig{}

	if file.GetControlPeriod() != empty.GetControlPeriod() ||
		file.GetZeroTime() != empty.GetZeroTime() ||
		file.GetInitDuration() != empty.GetInitDuration() ||
		file.GetStartupTimeout() != empty.GetStartupTimeout() ||
		file.GetBarrierPoll() != empty.GetBarrierPoll() ||
		file.GetInitStartHeight() != empty.GetInitStartHeight() ||
		file.GetSteadyHeight() != empty.GetSteadyHeight() ||
		file.GetInterpolation() != empty.GetInterpolation() ||
		file.GetFilterOrder() != empty.GetFilterOrder() ||
		file.GetFilterBeta() != empty.GetFilterBeta() ||
		file.GetGravityCompensation() != empty.GetGravityCompensation() ||
		file.GetVelocityForward() != empty.GetVelocityForward() ||
		file.GetVelocityLateral() != empty.GetVelocityLateral() ||
		file.GetYawRate() != empty.GetYawRate() ||
		file.GetBaseLinkIndex() != empty.GetBaseLinkIndex() ||
		file.GetBaseLinkName() != empty.GetBaseLinkName() ||
		file.GetLogLevel() != empty.GetLogLevel() ||
		file.GetLogFile() != empty.GetLogFile() ||
		file.GetRecordEvery() != empty.GetRecordEvery() {
		t.Errorf("%s disagrees with the built-in defaults", DefaultConfigPath)
	}
}

func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "node.json")
	testJSON := `{
  "control_period": "5ms",
  "zero_time": "1s",
  "filter_order": 3,
  "gravity_compensation": true,
  "base_link_name": "base"
}`
	if err := os.WriteFile(path, []byte(testJSON), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(fsutil.OSFileSystem{}, path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.GetControlPeriod(); got != 5*time.Millisecond {
		t.Errorf("GetControlPeriod() = %v, want 5ms", got)
	}
	if got := cfg.GetZeroTime(); got != time.Second {
		t.Errorf("GetZeroTime() = %v, want 1s", got)
	}
	if got := cfg.GetFilterOrder(); got != 3 {
		t.Errorf("GetFilterOrder() = %d, want 3", got)
	}
	if !cfg.GetGravityCompensation() {
		t.Error("GetGravityCompensation() = false, want true")
	}
	if got := cfg.GetBaseLinkName(); got != "base" {
		t.Errorf("GetBaseLinkName() = %q, want base", got)
	}
	// omitted fields keep their defaults
	if got := cfg.GetFilterBeta(); got != 0.995 {
		t.Errorf("GetFilterBeta() = %v, want 0.995", got)
	}
}

func TestLoadTOML(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	testTOML := `
control_period = "20ms"
init_duration = "1s"
filter_beta = 0.9
velocity_forward = 0.25
yaw_rate = -0.1
interpolation = "cubic"
log_level = "debug"
`
	if err := mem.WriteFile("/etc/motiongen/node.toml", []byte(testTOML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(mem, "/etc/motiongen/node.toml")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.GetControlPeriod(); got != 20*time.Millisecond {
		t.Errorf("GetControlPeriod() = %v, want 20ms", got)
	}
	if got := cfg.GetInitDuration(); got != time.Second {
		t.Errorf("GetInitDuration() = %v, want 1s", got)
	}
	if got := cfg.GetFilterBeta(); got != 0.9 {
		t.Errorf("GetFilterBeta() = %v, want 0.9", got)
	}
	if got := cfg.GetVelocityForward(); got != 0.25 {
		t.Errorf("GetVelocityForward() = %v, want 0.25", got)
	}
	if got := cfg.GetYawRate(); got != -0.1 {
		t.Errorf("GetYawRate() = %v, want -0.1", got)
	}
	if got := cfg.GetInterpolation(); got != "cubic" {
		t.Errorf("GetInterpolation() = %q, want cubic", got)
	}
	if got := cfg.GetLogLevel(); got != "debug" {
		t.Errorf("GetLogLevel() = %q, want debug", got)
	}
}

func TestLoadErrors(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	write := func(name, body string) {
		if err := mem.WriteFile(name, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("/bad.json", `{"control_period": 10}`)
	write("/unknown.toml", `control_periods = "10ms"`)
	write("/invalid.json", `{"filter_beta": 1.5}`)
	write("/big.json", `{"log_file": "`+strings.Repeat("x", maxFileSize)+`"}`)
	write("/config.yaml", `control_period: 10ms`)

	tests := []struct {
		path string
		want string
	}{
		{"/missing.json", "stat"},
		{"/config.yaml", "extension"},
		{"/bad.json", "parse config JSON"},
		{"/unknown.toml", "unknown config keys"},
		{"/invalid.json", "filter_beta"},
		{"/big.json", "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := Load(mem, tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	str := func(s string) *string { return &s }
	f64 := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }

	tests := []struct {
		name    string
		cfg     NodeConfig
		wantErr bool
	}{
		{"empty", NodeConfig{}, false},
		{"zero startup timeout", NodeConfig{StartupTimeout: str("0s")}, false},
		{"zero control period", NodeConfig{ControlPeriod: str("0s")}, true},
		{"negative zero time", NodeConfig{ZeroTime: str("-1s")}, true},
		{"garbage duration", NodeConfig{InitDuration: str("soon")}, true},
		{"order zero", NodeConfig{FilterOrder: i(0)}, true},
		{"order three", NodeConfig{FilterOrder: i(3)}, false},
		{"beta zero", NodeConfig{FilterBeta: f64(0)}, true},
		{"negative height", NodeConfig{SteadyHeight: f64(-0.5)}, true},
		{"negative link index", NodeConfig{BaseLinkIndex: i(-1)}, true},
		{"unknown interpolation", NodeConfig{Interpolation: str("bezier")}, true},
		{"unknown log level", NodeConfig{LogLevel: str("loud")}, true},
		{"negative record every", NodeConfig{RecordEvery: i(-2)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
