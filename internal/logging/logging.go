// Package logging builds the service's zap loggers.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds log output settings.
type Config struct {
	Level       string `toml:"level"`
	File        string `toml:"file"` // Empty logs to stdout
	MaxSizeMB   int    `toml:"max_size_mb"`
	MaxBackups  int    `toml:"max_backups"`
	MaxAgeDays  int    `toml:"max_age_days"`
	Compress    bool   `toml:"compress"`
	Development bool   `toml:"development"`
}

// DefaultConfig returns default log configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// RotatingWriter returns a lumberjack-backed writer for path.
func RotatingWriter(path string, cfg Config) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

// EncoderConfig is the production encoder with an ISO8601 "time" key.
func EncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

// New builds the service logger.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	if cfg.Development {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(EncoderConfig())
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if cfg.File != "" {
		sink = RotatingWriter(cfg.File, cfg)
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}

// NewOrFallback builds the service logger, falling back to a production
// stdout logger when cfg is unusable.
func NewOrFallback(cfg Config) *zap.Logger {
	logger, err := New(cfg)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("falling back to default logger", zap.Error(err))
	}
	return logger
}
