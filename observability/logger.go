// Package observability builds the process logger from configuration.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Leinnan/assets-reflect/config"
)

// ParseLevel maps a configured level name to a zap level.
// Unknown names fall back to info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger builds a zap.Logger from `c`, installs it as the global logger
// and redirects the stdlib log package to it. The caller should defer
// logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

	encoderConfig := zap.NewProductionEncoderConfig()
	if c.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	var encoder zapcore.Encoder
	if strings.EqualFold(c.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	files := 0
	for _, out := range c.Outputs {
		if !isStream(out) {
			files++
		}
	}
	rotation := c.Rotation
	if files > 1 {
		// Two lumberjack loggers must never rotate the same file.
		rotation.Filename = ""
	}

	cores := make([]zapcore.Core, 0, len(c.Outputs))
	for _, out := range c.Outputs {
		sink, err := openSink(out, rotation)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, sink, level))
	}

	options := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if c.Development {
		options = append(options, zap.Development())
	}
	logger := zap.New(zapcore.NewTee(cores...), options...)
	zap.ReplaceGlobals(logger)
	if _, err := zap.RedirectStdLogAt(logger, zap.InfoLevel); err != nil {
		return nil, fmt.Errorf("cannot redirect standard log: %w", err)
	}
	return logger, nil
}

func isStream(out string) bool {
	switch strings.ToLower(out) {
	case "stdout", "stderr":
		return true
	}
	return false
}

// openSink resolves one configured output. Anything but stdout and stderr is
// a file path, rotated through lumberjack when rotation is enabled.
//
// `rotation.Filename` replaces the path of the output when set, which only
// happens with a single file output.
func openSink(out string, rotation config.RotationConfig) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	if rotation.Enable {
		filename := out
		if strings.TrimSpace(rotation.Filename) != "" {
			filename = rotation.Filename
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    max(rotation.MaxSizeMB, 1),
			MaxBackups: max(rotation.MaxBackups, 1),
			MaxAge:     max(rotation.MaxAgeDays, 1),
			Compress:   rotation.Compress,
		}), nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create log directory for %s: %w", out, err)
	}
	file, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log output %s: %w", out, err)
	}
	return zapcore.AddSync(file), nil
}
