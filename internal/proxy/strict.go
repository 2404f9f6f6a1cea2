package proxy

import "sync/atomic"

var lenient atomic.Bool

// SetStrict controls scalar extraction from traced values without a known
// constant: when strict (the default) it fails with a *DataDependentError,
// otherwise it is recorded and runs on the underlying value. The setting is
// process-wide.
func SetStrict(strict bool) {
	lenient.Store(!strict)
}

// Strict reports the current setting.
func Strict() bool {
	return !lenient.Load()
}
