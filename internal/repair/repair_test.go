package repair

import (
	"testing"
	"time"

	"github.com/watchdogd-project/watchdogd/internal/classify"
)

// Scenario 1/2 from spec.md §8: retry-timeout=30, first failure is
// suppressed, second failure after the window invokes repair.
func TestRetryTimeoutSuppressesThenRepairs(t *testing.T) {
	p := &Policy{RetryTimeout: 30 * time.Second, RepairBinary: "/bin/true", RepairTimeout: time.Second}
	state := &State{}
	target := Target{Name: "/path/file"}

	d1 := p.Evaluate(classify.Code(250), classify.Classify(classify.Code(250)), state, target)
	if d1.Outcome != OutcomeSuppressed {
		t.Fatalf("first offence should suppress, got %v", d1.Outcome)
	}
	if state.FirstFailureTS == 0 {
		t.Fatal("first-failure timestamp should be recorded")
	}
	firstTS := state.FirstFailureTS

	// Simulate the window still open: artificially rewind nothing, call
	// again immediately — still within the window.
	d2 := p.Evaluate(classify.Code(250), classify.Classify(classify.Code(250)), state, target)
	if d2.Outcome != OutcomeSuppressed {
		t.Fatalf("within window should still suppress, got %v", d2.Outcome)
	}
	if state.FirstFailureTS != firstTS {
		t.Fatal("first-failure timestamp should not move while suppressed")
	}

	// Move the first failure 31s into the past: the 30s window has
	// elapsed, so this failure invokes repair.
	state.FirstFailureTS -= 31
	d3 := p.Evaluate(classify.Code(250), classify.Classify(classify.Code(250)), state, target)
	if d3.Outcome != OutcomeRepaired {
		t.Fatalf("failure after the window should invoke repair, got %v", d3.Outcome)
	}
	if state.RepairCount != 1 {
		t.Fatalf("expected repair_count=1, got %d", state.RepairCount)
	}
}

// Scenario 4: repair-maximum=2, repairable error every cycle, repair
// binary always succeeds; repair fires on cycles 1 and 2, cycle 3
// surfaces without repair.
func TestRepairBudgetEnforced(t *testing.T) {
	p := &Policy{RepairMax: 2, RepairBinary: "/bin/true", RepairTimeout: time.Second}
	state := &State{}
	target := Target{Name: "probe"}

	for i := 0; i < 2; i++ {
		d := p.Evaluate(classify.Code(7), classify.CategoryRepairable, state, target)
		if d.Outcome != OutcomeRepaired {
			t.Fatalf("cycle %d: expected repaired, got %v", i+1, d.Outcome)
		}
	}
	if state.RepairCount != 2 {
		t.Fatalf("expected repair_count=2, got %d", state.RepairCount)
	}

	d3 := p.Evaluate(classify.Code(7), classify.CategoryRepairable, state, target)
	if d3.Outcome != OutcomeSurfaced {
		t.Fatalf("cycle 3 should surface once budget exhausted, got %v", d3.Outcome)
	}
}

// A repair attempt must start a fresh retry-timeout window: once the
// retry-timeout elapses and repair actually runs, the next failure
// should be suppressed again rather than surfacing immediately because
// the stale first-failure timestamp is still outside the window.
func TestRepairAttemptResetsFirstFailureTimestamp(t *testing.T) {
	p := &Policy{RetryTimeout: time.Second, RepairBinary: "/bin/true", RepairTimeout: time.Second}
	state := &State{}
	target := Target{Name: "probe"}

	d1 := p.Evaluate(classify.Code(7), classify.CategoryRepairable, state, target)
	if d1.Outcome != OutcomeSuppressed {
		t.Fatalf("first offence should suppress, got %v", d1.Outcome)
	}

	// Force the window to have elapsed without a real sleep.
	state.FirstFailureTS -= int64(2 * time.Second / time.Second)

	d2 := p.Evaluate(classify.Code(7), classify.CategoryRepairable, state, target)
	if d2.Outcome != OutcomeRepaired {
		t.Fatalf("expected repair once the retry window elapsed, got %v", d2.Outcome)
	}
	if state.FirstFailureTS != 0 {
		t.Fatal("a repair attempt must clear the first-failure timestamp so the next failure opens a fresh window")
	}

	d3 := p.Evaluate(classify.Code(7), classify.CategoryRepairable, state, target)
	if d3.Outcome != OutcomeSuppressed {
		t.Fatalf("the failure right after a repair attempt should open a fresh suppression window, got %v", d3.Outcome)
	}
}

func TestSuccessResetsState(t *testing.T) {
	state := &State{FirstFailureTS: 42, RepairCount: 3}
	p := &Policy{}
	d := p.Evaluate(classify.OK, classify.CategoryOK, state, Target{})
	if d.Outcome != OutcomeClear {
		t.Fatalf("expected clear, got %v", d.Outcome)
	}
	if state.FirstFailureTS != 0 || state.RepairCount != 0 {
		t.Fatal("success must reset failure state")
	}
}

func TestDontKnowLeavesStateUntouched(t *testing.T) {
	state := &State{FirstFailureTS: 42, RepairCount: 3}
	p := &Policy{}
	d := p.Evaluate(classify.DontKnow, classify.CategoryDontKnow, state, Target{})
	if d.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %v", d.Outcome)
	}
	if state.FirstFailureTS != 42 || state.RepairCount != 3 {
		t.Fatal("don't-know must not alter state")
	}
}

func TestUngroupedResultSurfacesImmediately(t *testing.T) {
	p := &Policy{RetryTimeout: 30 * time.Second, RepairBinary: "/bin/true"}
	d := p.Evaluate(classify.Code(9), classify.CategoryRepairable, nil, Target{})
	if d.Outcome != OutcomeSurfaced {
		t.Fatalf("ungrouped repairable result should surface without retry/repair, got %v", d.Outcome)
	}
}

func TestSelfRepairArgvConvention(t *testing.T) {
	p := &Policy{}
	path, argv := p.buildInvocation(classify.Code(5), Target{Version: VersionSelfRepair, Path: "/opt/probe", Name: "probe"})
	want := []string{"/opt/probe", "/opt/probe", "repair", "5", "probe"}
	if path != "/opt/probe" || !equalSlices(argv, want) {
		t.Fatalf("got path=%s argv=%v, want path=/opt/probe argv=%v", path, argv, want)
	}
}

func TestGlobalRepairArgvConvention(t *testing.T) {
	p := &Policy{RepairBinary: "/opt/repair"}
	path, argv := p.buildInvocation(classify.Code(250), Target{Name: "/path/file"})
	want := []string{"/opt/repair", "/opt/repair", "250", "/path/file"}
	if path != "/opt/repair" || !equalSlices(argv, want) {
		t.Fatalf("got path=%s argv=%v, want path=/opt/repair argv=%v", path, argv, want)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
