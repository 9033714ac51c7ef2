package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

type Options struct {
	Level string
	Debug bool
	// File enables a rotating log file next to stderr output.
	File string
	// Out defaults to stderr.
	Out io.Writer
}

// New builds the run logger. The returned closer flushes and closes the log file, if any.
func New(opts Options) (logr.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), nil, err
	}
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotating)
		closer = rotating
	}

	zapOpts := zap.Options{
		Development: opts.Debug,
		DestWriter:  out,
		Level:       level,
	}
	logger := zap.New(zap.UseFlagOptions(&zapOpts)).WithValues("run", uuid.NewString())
	return logger, closer, nil
}

// ParseLevel accepts the usual level names, case-insensitively. Empty means info.
// logr has no warning level and warnings are info lines, so WARN is rejected rather than
// silently hiding them.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "WARN", "WARNING":
		return zapcore.InfoLevel, fmt.Errorf("log level %q is not supported, warnings are logged at INFO", level)
	case "ERROR", "CRITICAL":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
