// Package wdclock provides a monotonic clock and a keep-alive-aware
// sleep helper, so that any wait in the daemon can be made safe for
// the hardware watchdog without every caller re-implementing the
// per-second keep-alive loop.
package wdclock

import "time"

// Pinger is anything that can be pet once per second during a sleep.
// internal/wddevice.Handle satisfies this.
type Pinger interface {
	KeepAlive() error
}

// start is recorded once at process init so Now never returns 0 and is
// immune to wall-clock adjustments (it is derived from the monotonic
// reading embedded in time.Now()).
var start = time.Now()

// Now returns whole elapsed seconds since process start, plus one, so
// that 0 remains reserved to mean "timer not started" in descriptor
// first-failure timestamps.
func Now() int64 {
	return int64(time.Since(start).Seconds()) + 1
}

// SafeSleep sleeps for the given duration, issuing one keep-alive per
// second on p so the hardware timer is fed even if d exceeds the
// device's configured timeout. p may be nil, in which case this is a
// plain sleep (used when --no-action or no device is open).
func SafeSleep(d time.Duration, p Pinger) {
	if d <= 0 {
		return
	}
	if p == nil {
		time.Sleep(d)
		return
	}

	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		step := time.Second
		if remaining < step {
			step = remaining
		}
		time.Sleep(step)
		_ = p.KeepAlive()
	}
}
