package ratelimit

import (
	"log"
	"sync/atomic"
)

var debugEnabled atomic.Bool

// SetDebugLog toggles trace logging of scheduling decisions.
func SetDebugLog(enabled bool) { debugEnabled.Store(enabled) }

func debugf(format string, args ...any) {
	if debugEnabled.Load() {
		log.Printf(format, args...)
	}
}
