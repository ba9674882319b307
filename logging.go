package convert

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig controls the zap logger built by NewZapLogger.
type LogConfig struct {
	// Level is the minimum level to emit: debug, info, warn, error.
	// Empty means info.
	Level string

	// JSON selects JSON encoding instead of the console encoder.
	JSON bool

	// Development enables development mode (warnings panic, caller info).
	Development bool
}

// NewZapLogger builds a zap-backed Logger. The returned logger satisfies
// the Logger interface consumed by New, so CLI and library callers share
// one logging setup.
func NewZapLogger(cfg LogConfig) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	encoding := "console"
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	if cfg.JSON {
		encoding = "json"
		encoderCfg = zap.NewProductionEncoderConfig()
	}
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z0700")

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building zap logger: %w", err)
	}
	return &zapLogger{sugar: logger.Sugar()}, nil
}

// zapLogger adapts a zap SugaredLogger to the Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

var _ Logger = (*zapLogger)(nil)

func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes buffered log entries. Callers owning the process lifecycle
// should defer this.
func (l *zapLogger) Sync() error { return l.sugar.Sync() }

// nopLogger discards all messages. Used when no Logger is configured so
// call sites never nil-check.
type nopLogger struct{}

var _ Logger = nopLogger{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
