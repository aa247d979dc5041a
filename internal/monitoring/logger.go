// Package monitoring holds the process-wide diagnostic loggers.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug turns debug output on or off.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

// DebugEnabled reports whether Debugf writes anything.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf logs through Logf with a [debug] prefix when debug output is on.
// Frame traces and discarded frames are logged here.
func Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}
