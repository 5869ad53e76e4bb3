// Package supervisor drives the main cycle: keep-alive, the fixed
// system-wide check order, the per-instance probe registry, and the
// short-drain/long-interval sleep pair, handing any surfaced code off
// to the shutdown state machine. Modeled on the teacher's Daemon
// run-loop shape, retargeted from its reconciliation cadence to the
// fixed probe order and keep-alive discipline of spec.md §4.7.
package supervisor

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/probe"
	"github.com/watchdogd-project/watchdogd/internal/repair"
	"github.com/watchdogd-project/watchdogd/internal/sandbox"
	"github.com/watchdogd-project/watchdogd/internal/shutdown"
	"github.com/watchdogd-project/watchdogd/internal/signals"
	"github.com/watchdogd-project/watchdogd/internal/sysload"
	"github.com/watchdogd-project/watchdogd/internal/wdclock"
	"github.com/watchdogd-project/watchdogd/internal/wddevice"
)

// drainSleep is the short pause after dispatching probes, letting fast
// test binaries finish before one more drain call, per spec.md §4.7 step 4.
const drainSleep = 50 * time.Millisecond

// Supervisor owns one cycle of the daemon's life.
type Supervisor struct {
	Log      zerolog.Logger
	Device   *wddevice.Handle
	Interval time.Duration
	Sync     bool
	NoAction bool
	LoopExit int // 0 means unlimited cycles

	MaxLoad1, MaxLoad5, MaxLoad15 float64
	MinMemoryKB, AllocatableKB    int

	Registry *probe.Registry
	Policy   *repair.Policy

	Stop *signals.StopFlag

	// Shutdown is invoked with the surfaced code when a fatal/irreparable
	// result can't be contained by the repair policy. Swappable in tests.
	Shutdown func(code classify.Code)
}

// New builds a Supervisor wired to call shutdown.Run unless NoAction
// is set, in which case the surfaced code is logged and the loop
// continues — the only way this package is made testable without
// actually driving the machine toward a reboot.
func New(log zerolog.Logger, device *wddevice.Handle, interval time.Duration, registry *probe.Registry, policy *repair.Policy, stop *signals.StopFlag, shutdownCfg shutdown.Config) *Supervisor {
	s := &Supervisor{
		Log:      log,
		Device:   device,
		Interval: interval,
		Registry: registry,
		Policy:   policy,
		Stop:     stop,
	}
	s.Shutdown = func(code classify.Code) {
		if s.NoAction {
			s.Log.Warn().Int("code", int(code)).Msg("--no-action set: surfaced code would have triggered shutdown")
			return
		}
		shutdown.Run(s.Log, shutdownCfg, code)
	}
	return s
}

// Run executes cycles until the stop flag is set or LoopExit is
// reached (0 means run forever). Returns the number of cycles executed.
func (s *Supervisor) Run() int {
	cycles := 0
	for {
		s.cycle()
		cycles++
		if s.Stop != nil && s.Stop.IsSet() {
			break
		}
		if s.LoopExit > 0 && cycles >= s.LoopExit {
			break
		}
	}
	return cycles
}

// cycle runs exactly one iteration of spec.md §4.7.
func (s *Supervisor) cycle() {
	start := time.Now()

	s.ping()
	s.evaluateUngrouped(classify.OK) // ping() surfaces a failing keep-alive on its own; this one is the cadence's OK baseline

	if s.Sync {
		s.ping()
		// sync() has no failure mode worth classifying; issued for its
		// side effect only, matching watchdog.c's optional 's' flag.
		unix.Sync()
	}

	s.systemWideChecks()
	s.dispatchProbes()

	time.Sleep(drainSleep)
	s.drainTestBinaries()

	elapsed := time.Since(start)
	if remaining := s.Interval - elapsed; remaining > 0 {
		wdclock.SafeSleep(remaining, s.Device)
	}
}

// ping issues a keep-alive. A failing keep-alive write means the
// device itself can no longer be petted, which spec.md's §9.x
// resolution treats as an unconditional reboot condition rather than
// something to swallow and let the hardware timeout resolve on its own.
func (s *Supervisor) ping() {
	if s.Device == nil {
		return
	}
	if err := s.Device.KeepAlive(); err != nil {
		s.Log.Error().Err(err).Msg("keep-alive write failed")
		s.Shutdown(classify.ErrReboot)
	}
}

// evaluateUngrouped feeds a system-wide result with no descriptor
// through the repair policy, per spec.md §4.7 step 1/3: these codes
// are never suppressed or repaired, only cleared or surfaced.
func (s *Supervisor) evaluateUngrouped(code classify.Code) {
	cat := classify.Classify(code)
	decision := s.Policy.Evaluate(code, cat, nil, repair.Target{Name: "system"})
	if decision.Outcome == repair.OutcomeSurfaced {
		s.Shutdown(decision.Code)
	}
}

// systemWideChecks runs the fixed-order checks that have no per-
// instance descriptor: file-table pressure, load averages, free
// memory, allocatable memory. Each is bracketed by a keep-alive.
func (s *Supervisor) systemWideChecks() {
	s.ping()
	s.evaluateUngrouped(sysload.CheckFileTable())
	s.ping()

	s.ping()
	s.evaluateUngrouped(sysload.CheckLoad(s.MaxLoad1, s.MaxLoad5, s.MaxLoad15))
	s.ping()

	s.ping()
	s.evaluateUngrouped(sysload.CheckMemory(s.MinMemoryKB))
	s.ping()

	s.ping()
	s.evaluateUngrouped(sysload.CheckAllocatable(s.AllocatableKB))
	s.ping()
}

// dispatchProbes runs every registered per-instance probe in
// registration order — temperature, file, pidfile, interface, ping,
// test-binary, following whatever order the configuration registered
// them in, matching spec.md §4.7 step 3's remaining fixed sequence.
func (s *Supervisor) dispatchProbes() {
	for _, entry := range s.Registry.Entries() {
		s.ping()
		code := s.runProbe(entry)
		s.ping()

		cat := classify.Classify(code)
		target := repair.Target{
			Name:    entry.Probe.Name(),
			Version: entry.Probe.Version(),
			Path:    entry.Probe.RepairPath(),
		}
		decision := s.Policy.Evaluate(code, cat, &entry.State, target)
		if decision.Outcome == repair.OutcomeSurfaced {
			s.Shutdown(decision.Code)
		}
	}
}

// runProbe dispatches one probe. Probes that shell out to an external
// binary (ping, test-binary) already fence themselves under
// internal/sandbox with their own configured timeout and device
// pinger; wrapping them again here would truncate a longer configured
// timeout down to the 5s bound below. Every other probe kind — file
// mtime, pidfile, interface, temperature — is a plain in-process
// filesystem read that spec.md §4.7 still asks to be sandboxed, so
// those get the 5s wrap.
func (s *Supervisor) runProbe(entry *probe.Entry) classify.Code {
	switch entry.Probe.(type) {
	case *probe.PingProbe, *probe.TestBinaryProbe:
		return entry.Probe.Run()
	default:
		res := sandbox.RunFunc(5*time.Second, entry.Probe.Run, s.Device)
		return res.Code
	}
}

// drainTestBinaries issues one more keep-alive after the drain sleep,
// before the interval's long sleep begins. Test binaries run to
// completion inside dispatchProbes, so no test-binary result is
// outstanding at this point and nothing further is collected here.
func (s *Supervisor) drainTestBinaries() {
	s.ping()
}
