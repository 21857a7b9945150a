package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckWithin(t *testing.T) {
	tmp := t.TempDir()
	allowed := filepath.Join(tmp, "captures")
	outside := filepath.Join(tmp, "private")
	for _, dir := range []string{allowed, outside} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	link := filepath.Join(allowed, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		dirs    []string
		wantErr bool
	}{
		{"file in dir", filepath.Join(allowed, "walk.pcap"), []string{allowed}, false},
		{"new nested file", filepath.Join(allowed, "a", "b", "walk.pcap"), []string{allowed}, false},
		{"the dir itself", allowed, []string{allowed}, false},
		{"second dir", filepath.Join(outside, "x"), []string{allowed, outside}, false},
		{"dot dot", filepath.Join(allowed, "..", "private", "x"), []string{allowed}, true},
		{"relative escape", "../../../etc/passwd", []string{allowed}, true},
		{"absolute elsewhere", "/etc/passwd", []string{allowed}, true},
		{"through symlink", filepath.Join(link, "x.pcap"), []string{allowed}, true},
		{"new file through symlink", filepath.Join(link, "new", "x.pcap"), []string{allowed}, true},
		{"no dirs", filepath.Join(allowed, "x"), nil, true},
		{"sibling prefix", allowed + "-old/x", []string{allowed}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckWithin(tt.path, tt.dirs...)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckWithin(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestCheckWithin_ErrorIs(t *testing.T) {
	err := CheckWithin("/etc/passwd", t.TempDir())
	if !errors.Is(err, ErrOutsideAllowedDirs) {
		t.Errorf("error %v is not ErrOutsideAllowedDirs", err)
	}
}

func TestCheckOutputPath(t *testing.T) {
	if err := CheckOutputPath(filepath.Join(os.TempDir(), "run.png")); err != nil {
		t.Errorf("temp dir rejected: %v", err)
	}
	if err := CheckOutputPath("run.png"); err != nil {
		t.Errorf("working dir rejected: %v", err)
	}
	if err := CheckOutputPath("/etc/motiongen/run.png"); err == nil {
		t.Error("expected /etc to be rejected")
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "unnamed"},
		{"run_init", "run_init"},
		{"3f2c/../INIT", "3f2c_.._INIT"},
		{"a b  c", "a_b_c"},
		{"__hidden.", "hidden"},
		{"??", "unnamed"},
		{"café-run", "caf_-run"},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := SafeName(strings.Repeat("x", 500)); len(got) != maxNameLen {
		t.Errorf("long name not truncated: %d", len(got))
	}
}
