package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and sink of the process logger.
type Config struct {
	Level      string // debug, info, warn, error; anything else is info
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

const defaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "console", Output: "stdout", TimeFormat: defaultTimeFormat}
}

// New builds a logger from cfg. Errors carry stack traces.
func New(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(levelOf(cfg.Level)),
		Encoding:         "json",
		EncoderConfig:    encoderConfig(cfg.TimeFormat),
		OutputPaths:      []string{sink(cfg.Output)},
		ErrorOutputPaths: []string{"stderr"},
	}
	if strings.EqualFold(cfg.Format, "console") {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	log, err := zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger for %q: %w", cfg.Output, err)
	}
	return log, nil
}

func levelOf(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil || lvl < zapcore.DebugLevel || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}

func sink(output string) string {
	if output == "" {
		return "stdout"
	}
	if o := strings.ToLower(output); o == "stdout" || o == "stderr" {
		return o
	}
	return output
}

func encoderConfig(timeFormat string) zapcore.EncoderConfig {
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	return ec
}
