package wdclock

import (
	"testing"
	"time"
)

type countingPinger struct{ n int }

func (c *countingPinger) KeepAlive() error {
	c.n++
	return nil
}

func TestNowNeverZero(t *testing.T) {
	if Now() == 0 {
		t.Fatal("Now() must never return 0")
	}
}

func TestSafeSleepPings(t *testing.T) {
	p := &countingPinger{}
	SafeSleep(2200*time.Millisecond, p)
	if p.n < 2 {
		t.Errorf("expected at least 2 keep-alives over ~2.2s, got %d", p.n)
	}
}

func TestSafeSleepNilPinger(t *testing.T) {
	SafeSleep(10*time.Millisecond, nil)
}

func TestSafeSleepZero(t *testing.T) {
	p := &countingPinger{}
	SafeSleep(0, p)
	if p.n != 0 {
		t.Errorf("zero duration should not ping, got %d", p.n)
	}
}
