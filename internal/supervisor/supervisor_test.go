package supervisor

import (
	"os"
	"testing"
	"time"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/probe"
	"github.com/watchdogd-project/watchdogd/internal/repair"
	"github.com/watchdogd-project/watchdogd/internal/signals"
	"github.com/watchdogd-project/watchdogd/internal/wddevice"
	"github.com/watchdogd-project/watchdogd/internal/wdlog"
)

type fakeProbe struct {
	name string
	code classify.Code
	runs int
}

func (f *fakeProbe) Name() string            { return f.name }
func (f *fakeProbe) Version() repair.Version { return repair.VersionGlobalRepair }
func (f *fakeProbe) RepairPath() string      { return "" }
func (f *fakeProbe) Run() classify.Code {
	f.runs++
	return f.code
}

func newTestSupervisor() (*Supervisor, *fakeProbe) {
	reg := probe.NewRegistry()
	fp := &fakeProbe{name: "fake", code: classify.OK}
	reg.Register(fp)

	policy := &repair.Policy{}
	stop := &signals.StopFlag{}

	s := &Supervisor{
		Log:      wdlog.Default(),
		Interval: 10 * time.Millisecond,
		Registry: reg,
		Policy:   policy,
		Stop:     stop,
	}
	s.Shutdown = func(code classify.Code) {}
	return s, fp
}

func TestRunStopsOnLoopExit(t *testing.T) {
	s, _ := newTestSupervisor()
	s.LoopExit = 3
	cycles := s.Run()
	if cycles != 3 {
		t.Fatalf("expected exactly 3 cycles, got %d", cycles)
	}
}

func TestRunStopsOnStopFlag(t *testing.T) {
	s, _ := newTestSupervisor()
	s.Stop.Set()
	cycles := s.Run()
	if cycles != 1 {
		t.Fatalf("expected exactly 1 cycle once the stop flag is already set, got %d", cycles)
	}
}

func TestSurfacedCodeInvokesShutdown(t *testing.T) {
	s, fp := newTestSupervisor()
	fp.code = classify.ErrReboot // unconditional, always surfaces
	s.LoopExit = 1

	var gotCode classify.Code
	invoked := false
	s.Shutdown = func(code classify.Code) {
		invoked = true
		gotCode = code
	}

	s.Run()
	if !invoked {
		t.Fatal("expected shutdown to be invoked for an unconditional code")
	}
	if gotCode != classify.ErrReboot {
		t.Errorf("expected ErrReboot surfaced, got %v", gotCode)
	}
}

func TestRepairableCodeDoesNotInvokeShutdownWithinRetryWindow(t *testing.T) {
	s, fp := newTestSupervisor()
	fp.code = classify.Code(200) // arbitrary repairable code
	s.Policy.RetryTimeout = time.Hour
	s.LoopExit = 1

	invoked := false
	s.Shutdown = func(code classify.Code) { invoked = true }

	s.Run()
	if invoked {
		t.Fatal("a first-offence repairable failure within the retry window must be suppressed, not surfaced")
	}
}

func TestPingSurfacesRebootOnKeepAliveFailure(t *testing.T) {
	// A regular file has no WDIOC_KEEPALIVE ioctl handler, so Open'ing
	// one in place of a real character device gives a Handle whose
	// KeepAlive() reliably fails, without needing real hardware.
	f, err := os.CreateTemp(t.TempDir(), "fake-device")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	dev, err := wddevice.Open(f.Name(), 0)
	if err != nil {
		t.Fatalf("unexpected error opening regular file as a device handle: %v", err)
	}
	defer dev.Close()

	s, _ := newTestSupervisor()
	s.Device = dev
	s.LoopExit = 1

	invoked := false
	var gotCode classify.Code
	s.Shutdown = func(code classify.Code) {
		invoked = true
		gotCode = code
	}

	s.Run()
	if !invoked {
		t.Fatal("expected a failing keep-alive write to surface shutdown")
	}
	if gotCode != classify.ErrReboot {
		t.Errorf("expected ErrReboot surfaced from a failing keep-alive, got %v", gotCode)
	}
}

func TestProbeRunCalledEachCycle(t *testing.T) {
	s, fp := newTestSupervisor()
	s.LoopExit = 4
	s.Run()
	if fp.runs != 4 {
		t.Errorf("expected the probe to run once per cycle (4), got %d", fp.runs)
	}
}
