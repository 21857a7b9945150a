// Package security guards the file paths the node and its tools read from
// and write to.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowedDirs is returned when a path resolves outside every
// allowed directory.
var ErrOutsideAllowedDirs = errors.New("path is outside the allowed directories")

// CheckWithin returns nil if path, after resolving symlinks, lies within at
// least one of dirs. A path that does not exist yet is judged by its
// deepest existing ancestor, so a symlinked parent cannot smuggle a new
// file elsewhere.
func CheckWithin(path string, dirs ...string) error {
	if len(dirs) == 0 {
		return fmt.Errorf("%s: no allowed directories", path)
	}
	resolved, err := canonical(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, dir := range dirs {
		root, err := canonical(dir)
		if err != nil {
			continue
		}
		if contains(root, resolved) {
			return nil
		}
	}
	return fmt.Errorf("%s: %w %v", path, ErrOutsideAllowedDirs, dirs)
}

// CheckOutputPath allows writes under the working directory or the temp
// directory.
func CheckOutputPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	return CheckWithin(path, cwd, os.TempDir())
}

func contains(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonical returns the absolute, symlink-free form of path. Components
// that do not exist yet are appended to the resolved existing prefix.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	var missing []string
	for dir := abs; ; {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		missing = append(missing, filepath.Base(dir))
		dir = parent
	}
}

const maxNameLen = 128

// SafeName turns an identifier into a file name made of ASCII letters,
// digits, dots, dashes and underscores. Runs of other characters become a
// single underscore.
func SafeName(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		ok := r == '.' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}
