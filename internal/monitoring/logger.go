package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf reports a recoverable problem, such as a channel that could not be
// decoded this tick.
func Warnf(format string, v ...interface{}) {
	Logf("warning: "+format, v...)
}

// Errorf reports a failure that leaves part of the system unusable until it is
// reconfigured.
func Errorf(format string, v ...interface{}) {
	Logf("error: "+format, v...)
}
