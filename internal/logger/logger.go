// Package logger builds the zap logger shared by every engine and records
// crashes of the planengine binary.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger's level and output format.
type Config struct {
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Encoding    string `mapstructure:"encoding" validate:"omitempty,oneof=json console"`
	Development bool   `mapstructure:"development"`
}

// level is shared by every logger Build returns so SetLevel reaches all of them.
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Build creates a logger writing to stderr.
func Build(cfg Config) (*zap.Logger, error) {
	if err := SetLevel(cfg.Level); err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log, nil
}

// SetLevel changes the level of every built logger. An empty string means info.
func SetLevel(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = "info"
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("parse log level %q: %w", s, err)
	}
	level.SetLevel(l)
	return nil
}

// Level returns the current level.
func Level() zapcore.Level {
	return level.Level()
}
