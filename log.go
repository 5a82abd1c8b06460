package web3

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var defaultLogger atomic.Pointer[zap.Logger]

/*
Sets the logger used by components that weren't given one explicitly. Until
this is called, background logging is discarded.
*/
func SetLogger(logger *zap.Logger) {
	defaultLogger.Store(logger)
}

// Returns the process-wide logger; never nil.
func Logger() *zap.Logger {
	logger := defaultLogger.Load()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func loggerOr(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return Logger()
}
