package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// nop until Setup runs, so packages can log during tests without wiring.
var logger = zapr.NewLogger(zap.NewNop())

// Setup installs the process logger. development selects zap's console config.
func Setup(development bool) error {
	zl, err := zap.NewProduction()
	if development {
		zl, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	logger = zapr.NewLogger(zl)
	return nil
}

func Info(msg string, keysAndValues ...any) {
	logger.Info(msg, keysAndValues...)
}

func Error(err error, msg string, keysAndValues ...any) {
	logger.Error(err, msg, keysAndValues...)
}

// WithName returns a named child for a long-lived component.
func WithName(name string) logr.Logger {
	return logger.WithName(name)
}
