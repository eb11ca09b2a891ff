package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where a logger writes.
type Options struct {
	// Path is the JSON log file. Rotated by size.
	Path string
	// Component names the process, e.g. jotd or jotctl.
	Component string
	// Profile is attached to every entry when set.
	Profile string
	// Console also writes human-readable entries to stderr.
	Console bool
	Level   zapcore.Level
}

// New creates a zap logger that writes JSON to a rotating file and
// optionally to stderr. Component, profile and PID are included as
// initial fields.
func New(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), opts.Level),
	}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), opts.Level))
	}

	fields := []zap.Field{
		zap.String("component", opts.Component),
		zap.Int("pid", os.Getpid()),
	}
	if opts.Profile != "" {
		fields = append(fields, zap.String("profile", opts.Profile))
	}

	return zap.New(zapcore.NewTee(cores...), zap.Fields(fields...)), nil
}
