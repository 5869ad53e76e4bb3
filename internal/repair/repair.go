// Package repair implements the retry-window and repair-budget policy
// that sits between a probe result and the shutdown state machine:
// suppress transient failures for a configurable window, invoke a
// repair binary under the sandbox within a bounded attempt budget, and
// only then surface an unresolved failure for shutdown.
package repair

import (
	"strconv"
	"time"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/sandbox"
	"github.com/watchdogd-project/watchdogd/internal/wdclock"
)

// Version selects the repair binary calling convention for a
// descriptor: 0 uses the globally configured repair binary, 1 means
// the probe is self-repairing and its own binary is invoked.
type Version int

const (
	// VersionGlobalRepair uses the daemon-wide repair-binary option.
	VersionGlobalRepair Version = 0
	// VersionSelfRepair invokes the probe's own binary with a "repair" verb.
	VersionSelfRepair Version = 1
)

// State is the per-descriptor repair tracking record. Ungrouped
// results (e.g. the keep-alive/memory timer) pass a nil *State and are
// never suppressed or budget-tracked.
type State struct {
	FirstFailureTS int64 // monotonic seconds, 0 = no outstanding failure
	RepairCount    int
}

// Reset clears outstanding failure tracking, called on a successful probe.
func (s *State) Reset() {
	if s == nil {
		return
	}
	s.FirstFailureTS = 0
	s.RepairCount = 0
}

// Outcome is what the policy decided to do with one probe result.
type Outcome int

const (
	// OutcomeClear means the probe succeeded; any prior failure state was reset.
	OutcomeClear Outcome = iota
	// OutcomeIgnored means "don't know": no state change, no action.
	OutcomeIgnored
	// OutcomeSuppressed means the failure is within the retry-timeout window.
	OutcomeSuppressed
	// OutcomeRepaired means a repair binary ran and reported success.
	OutcomeRepaired
	// OutcomeSurfaced means the failure must be handed to the shutdown state machine.
	OutcomeSurfaced
)

// Policy holds the daemon-wide configuration the repair decision needs.
type Policy struct {
	RetryTimeout  time.Duration // 0 means disabled (including via --softboot)
	RepairMax     int           // 0 means unlimited
	RepairBinary  string        // global repair binary path, "" if unset
	RepairTimeout time.Duration
	Pinger        wdclock.Pinger
}

// Target describes the probe a repair invocation is against.
type Target struct {
	Name    string
	Version Version
	Path    string // the probe's own binary, used only for VersionSelfRepair
}

// Decision is the result of Evaluate, including the surfaced code if any.
type Decision struct {
	Outcome Outcome
	Code    classify.Code
}

// Evaluate applies the repair policy to one probe result. state may be
// nil for ungrouped results (the keep-alive/memory check), in which
// case the result is never suppressed or repaired — it is either
// cleared (ok) or surfaced immediately.
func (p *Policy) Evaluate(code classify.Code, cat classify.Category, state *State, target Target) Decision {
	switch cat {
	case classify.CategoryOK:
		state.Reset()
		return Decision{Outcome: OutcomeClear, Code: classify.OK}

	case classify.CategoryDontKnow:
		return Decision{Outcome: OutcomeIgnored, Code: code}

	case classify.CategoryUnconditional, classify.CategoryDoomed:
		return Decision{Outcome: OutcomeSurfaced, Code: code}

	default: // CategoryRepairable
		if state == nil {
			return Decision{Outcome: OutcomeSurfaced, Code: code}
		}
		return p.evaluateRepairable(code, state, target)
	}
}

func (p *Policy) evaluateRepairable(code classify.Code, state *State, target Target) Decision {
	now := wdclock.Now()

	if p.RetryTimeout > 0 {
		if state.FirstFailureTS == 0 {
			state.FirstFailureTS = now
			return Decision{Outcome: OutcomeSuppressed, Code: code}
		}
		elapsed := time.Duration(now-state.FirstFailureTS) * time.Second
		if elapsed <= p.RetryTimeout {
			return Decision{Outcome: OutcomeSuppressed, Code: code}
		}
	}

	if p.RepairMax > 0 && state.RepairCount >= p.RepairMax {
		return Decision{Outcome: OutcomeSurfaced, Code: code}
	}
	state.RepairCount++
	// Start a fresh retry-timeout window for this descriptor: a repair
	// attempt is about to run, matching watchdog.c's act->last_time = 0
	// on repair rather than leaving the original failure timestamp stale.
	state.FirstFailureTS = 0

	binPath, argv := p.buildInvocation(code, target)
	if binPath == "" {
		return Decision{Outcome: OutcomeSurfaced, Code: code}
	}

	// argv[0] is the exec path; ExecTask.Argv starts at the invoked
	// program name.
	res := sandbox.RunExec(p.RepairTimeout, sandbox.ExecTask{
		Path: binPath,
		Argv: argv[1:],
	}, p.Pinger)

	if res.Code == classify.OK {
		return Decision{Outcome: OutcomeRepaired, Code: classify.OK}
	}
	return Decision{Outcome: OutcomeSurfaced, Code: res.Code}
}

// buildInvocation constructs the repair binary path and argv per the
// version-0/version-1 calling convention (spec.md §6, §9.x).
func (p *Policy) buildInvocation(code classify.Code, target Target) (string, []string) {
	codeStr := strconv.Itoa(int(code))

	switch target.Version {
	case VersionSelfRepair:
		if target.Path == "" {
			return "", nil
		}
		// argv = {path, path, "repair", code, name}: the path is
		// duplicated as both the exec target and the conventional
		// argv[0] display name, per spec.md §4.6/§9.x.
		return target.Path, []string{target.Path, target.Path, "repair", codeStr, target.Name}
	default:
		if p.RepairBinary == "" {
			return "", nil
		}
		// argv = {repair_bin, repair_bin, code, name}.
		return p.RepairBinary, []string{p.RepairBinary, p.RepairBinary, codeStr, target.Name}
	}
}
