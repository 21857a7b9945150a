// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	-X github.com/banshee-data/motiongen/internal/version.Version=v0.3.0
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String is the one-line form recorded with each run and printed by
// -version.
func String() string {
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("%s (%s, built %s, %s)", Version, sha, BuildTime, runtime.Version())
}

// Fields returns the metadata as a flat map for structured log context.
func Fields() map[string]any {
	return map[string]any{
		"version":    Version,
		"git_sha":    GitSHA,
		"build_time": BuildTime,
	}
}
