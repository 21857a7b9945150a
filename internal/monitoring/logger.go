// Package monitoring sets up process logging.
//
// Components that hold a logger take a zerolog.Logger in their config.
// Packages that only emit occasional diagnostics call Logf, which routes to
// the process logger once NewLogger has run and can be muted in tests.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelEnv overrides the configured log level when set.
const LevelEnv = "MOTIONGEN_LOG_LEVEL"

// Logf is the package-level diagnostic logger. It defaults to the zerolog
// global logger but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	log.Info().Msgf(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Options configure NewLogger.
type Options struct {
	App   string
	Level string
	// File, when set, adds a size-rotated JSON log file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Console selects human-readable output on Out. Otherwise Out gets
	// JSON lines.
	Console bool
	Out     io.Writer
}

// NewLogger builds the process logger, installs it as the zerolog global
// and points Logf at it. The returned closer flushes the rotating file and
// is never nil.
func NewLogger(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ResolveLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotator)
		closer = rotator
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", opts.App).Logger()
	log.Logger = logger
	SetLogger(func(format string, v ...interface{}) {
		logger.Info().Msgf(format, v...)
	})
	return logger, closer, nil
}

// ResolveLevel parses the level from LevelEnv if set, else from configured.
// An empty result means info.
func ResolveLevel(configured string) (zerolog.Level, error) {
	name := configured
	if env := strings.TrimSpace(os.Getenv(LevelEnv)); env != "" {
		name = env
	}
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", name, err)
	}
	return level, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
