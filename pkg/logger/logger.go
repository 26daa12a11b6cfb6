package logger

import (
	"go.uber.org/zap"
)

var Log *zap.Logger

func NewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	Log = l
	return l
}

// WithComponent tags a logger with the owning component name.
func WithComponent(logger *zap.Logger, name string) *zap.Logger {
	return logger.With(zap.String("component", name))
}
