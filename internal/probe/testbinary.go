package probe

import (
	"time"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/repair"
	"github.com/watchdogd-project/watchdogd/internal/sandbox"
	"github.com/watchdogd-project/watchdogd/internal/wdclock"
)

// TestBinaryProbe runs an arbitrary external test program and treats
// its exit code as the result, per spec.md §1's "arbitrary test
// binaries" black box. Binaries auto-discovered from test-directory
// are self-repairing (version 1); ones explicitly configured with
// `test-binary =` default to the global repair binary (version 0)
// unless SelfRepair is set.
type TestBinaryProbe struct {
	Path       string
	Timeout    time.Duration
	SelfRepair bool
	Pinger     wdclock.Pinger
}

func NewTestBinaryProbe(path string, timeout time.Duration, selfRepair bool, pinger wdclock.Pinger) *TestBinaryProbe {
	return &TestBinaryProbe{Path: path, Timeout: timeout, SelfRepair: selfRepair, Pinger: pinger}
}

func (t *TestBinaryProbe) Name() string { return t.Path }

func (t *TestBinaryProbe) Version() repair.Version {
	if t.SelfRepair {
		return repair.VersionSelfRepair
	}
	return repair.VersionGlobalRepair
}

func (t *TestBinaryProbe) RepairPath() string {
	if t.SelfRepair {
		return t.Path
	}
	return ""
}

func (t *TestBinaryProbe) Run() classify.Code {
	res := sandbox.RunExec(t.Timeout, sandbox.ExecTask{
		Path: t.Path,
		Argv: []string{t.Path},
	}, t.Pinger)
	return res.Code
}
