// Package probe defines the liveness-check interface and registry the
// supervisory loop dispatches against each cycle. The shape is
// retargeted from the teacher's internal/doctor Check/Report pattern:
// a small interface plus an ordered registry, but driving a fixed
// per-cycle probe order rather than an ad-hoc health dashboard, and
// returning classify.Code results instead of a pass/warn/fail status.
package probe

import (
	"time"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/repair"
)

// Probe is one liveness check instance. Concrete probes are the
// "black boxes" spec.md §1 treats as external collaborators: ping,
// file mtime, pidfile liveness, interface byte counters, temperature,
// and arbitrary test binaries.
type Probe interface {
	// Name identifies the probe for logging and repair invocation.
	Name() string
	// Run executes the check and returns a result code. It must not
	// block indefinitely — callers are expected to bound it with
	// internal/sandbox where the underlying operation might hang
	// (e.g. on NFS).
	Run() classify.Code
	// Version selects the repair calling convention for this probe.
	Version() repair.Version
	// RepairPath is the probe's own binary for self-repairing probes
	// (Version() == repair.VersionSelfRepair); empty otherwise.
	RepairPath() string
}

// Entry pairs a Probe with its persistent repair-tracking state. This
// is the descriptor of spec.md §3: it lives for the daemon's lifetime,
// the sole place per-probe state survives across loop iterations.
type Entry struct {
	Probe Probe
	State repair.State
}

// Registry is the ordered list of probes dispatched each cycle, in the
// fixed order spec.md §4.7 requires: temperature, file, pidfile,
// interface, ping, test-binary — system-wide checks (file table, load,
// memory) are handled separately by the supervisor as they are not
// per-instance descriptors.
type Registry struct {
	entries []*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a probe, preserving insertion order.
func (r *Registry) Register(p Probe) *Entry {
	e := &Entry{Probe: p}
	r.entries = append(r.entries, e)
	return e
}

// Entries returns the registered probes in dispatch order.
func (r *Registry) Entries() []*Entry {
	return r.entries
}

// Result bundles a cycle's outcome for one probe, used for logging and
// for feeding the repair policy and heartbeat bookkeeping.
type Result struct {
	Name     string
	Code     classify.Code
	Category classify.Category
	Elapsed  time.Duration
}
