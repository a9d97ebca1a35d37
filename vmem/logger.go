package vmem

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

// Logger returns the package logger.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// SetLogger replaces the package logger. A nil logger restores the no-op default.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}

// abort is invoked when the kernel rejects an operation on a range it
// already granted. The memory may then have writable guard pages, so it is
// not recoverable like the residency probe's panic. Fatal exits the process
// even on a no-op logger.
var abort = func(err error) {
	Logger().Fatal("virtual memory protocol violation", zap.Error(err))
}
