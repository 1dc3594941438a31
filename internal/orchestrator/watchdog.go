package orchestrator

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

const (
	watchdogArmed int32 = iota
	watchdogDisarmed
	watchdogFired
)

// watchdog cancels a round that produces no body byte in time. It covers
// connect, headers and the first byte; any byte disarms it, keep-alive
// comments included.
type watchdog struct {
	timer *time.Timer
	state atomic.Int32
}

func startWatchdog(timeout time.Duration, cancel context.CancelFunc) *watchdog {
	w := &watchdog{}
	w.timer = time.AfterFunc(timeout, func() {
		if w.state.CompareAndSwap(watchdogArmed, watchdogFired) {
			cancel()
		}
	})
	return w
}

func (w *watchdog) disarm() {
	if w.state.CompareAndSwap(watchdogArmed, watchdogDisarmed) {
		w.timer.Stop()
	}
}

func (w *watchdog) fired() bool {
	return w.state.Load() == watchdogFired
}

// firstByteReader disarms the watchdog on the first non-empty read.
type firstByteReader struct {
	r    io.Reader
	w    *watchdog
	seen bool
}

func (f *firstByteReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if n > 0 && !f.seen {
		f.seen = true
		f.w.disarm()
	}
	return n, err
}
