// Package logging builds the process logger from configuration.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wippyai/ffi-bridge/bridge/httpapi"
	"github.com/wippyai/ffi-bridge/bridge/wasmhost"
	"github.com/wippyai/ffi-bridge/config"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

// Logger bundles a zap logger with the level that controls it, so the level
// can follow config reloads.
type Logger struct {
	*zap.Logger
	Level zap.AtomicLevel
	file  *lumberjack.Logger
}

// New builds a logger writing to stderr and, when cfg.File is set, to a
// rotated file.
func New(cfg config.LoggingConfig) (*Logger, error) {
	return NewWithSink(cfg, zapcore.Lock(os.Stderr))
}

// NewWithSink is New with an explicit console sink.
func NewWithSink(cfg config.LoggingConfig, console zapcore.WriteSyncer) (*Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, console, level)}

	l := &Logger{Level: level}
	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   cfg.Compress,
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(l.file), level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return l, nil
}

// SetLevel applies a level name such as "debug" without rebuilding.
func (l *Logger) SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	if l.Level.Level() != lvl {
		l.Info("log level changed", zap.Stringer("from", l.Level.Level()), zap.Stringer("to", lvl))
		l.Level.SetLevel(lvl)
	}
	return nil
}

// Install makes l the logger of every package that keeps one. Call it
// before building tables or servers.
func (l *Logger) Install() {
	handle.SetLogger(l.Named("handle"))
	dispatch.SetLogger(l.Named("dispatch"))
	wasmhost.SetLogger(l.Named("wasmhost"))
	httpapi.SetLogger(l.Named("httpapi"))
}

// Close flushes and closes the file sink.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
