package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a zap SugaredLogger to the engine's Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Debugf(format string, v ...any) { z.s.Debugf(format, v...) }
func (z *zapLogger) Infof(format string, v ...any)  { z.s.Infof(format, v...) }
func (z *zapLogger) Warnf(format string, v ...any)  { z.s.Warnf(format, v...) }
func (z *zapLogger) Errorf(format string, v ...any) { z.s.Errorf(format, v...) }

// newZapLogger builds a console logger at the requested level. The second
// return value flushes buffered entries and is deferred by the caller.
func newZapLogger(level string) (*zapLogger, func(), error) {
	var lvl zapcore.Level
	switch level {
	case "", "info":
		lvl = zapcore.InfoLevel
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", level)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return &zapLogger{s: logger.Sugar()}, func() { _ = logger.Sync() }, nil
}
