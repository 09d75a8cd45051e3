// Package obslog wraps zap so the rest of BigMap logs through one
// consistently configured logger rather than each package picking its own
// defaults.
//
// Grounded on Voskan-arena-cache's use of go.uber.org/zap for cache-layer
// logging (pkg/config.go's zap.Logger field and option).
package obslog

import "go.uber.org/zap"

// New builds a production (JSON, info level) logger, or a development
// (console, debug level) logger when dev is true.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Must is New but panics on error, for startup paths where a broken logger
// leaves the process unable to report anything useful anyway.
func Must(dev bool) *zap.Logger {
	logger, err := New(dev)
	if err != nil {
		panic(err)
	}
	return logger
}
