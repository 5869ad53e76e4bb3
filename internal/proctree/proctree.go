// Package proctree signals a process and its descendants, or every
// user process system-wide, the way killall5(8) and
// original_source/src/killall5.c do it: snapshot /proc, compute
// parent/session relationships, and signal children before parents so
// re-parenting onto pid 1 never hides a process from the sweep.
package proctree

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/watchdogd-project/watchdogd/internal/wdlog"
)

// Proc is one entry of a process-table snapshot.
type Proc struct {
	PID  int
	PPID int
	SID  int
	UID  int
}

// Snapshot lists every process currently visible under /proc. It is
// ephemeral: built fresh for a single kill operation and discarded.
func Snapshot() ([]Proc, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	procs := make([]Proc, 0, len(entries))
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		p, ok := readProc(pid)
		if ok {
			procs = append(procs, p)
		}
	}
	return procs, nil
}

func readProc(pid int) (Proc, bool) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return Proc{}, false
	}
	text := string(data)
	// Fields after the executable name in parens: state ppid pgrp session ...
	close := strings.LastIndexByte(text, ')')
	if close < 0 || close+2 >= len(text) {
		return Proc{}, false
	}
	fields := strings.Fields(text[close+2:])
	if len(fields) < 4 {
		return Proc{}, false
	}
	ppid, _ := strconv.Atoi(fields[1])
	sid, _ := strconv.Atoi(fields[3])

	uid := -1
	if st, err := os.Stat("/proc/" + strconv.Itoa(pid)); err == nil {
		if sysStat, ok := st.Sys().(*unix.Stat_t); ok {
			uid = int(sysStat.Uid)
		}
	}

	return Proc{PID: pid, PPID: ppid, SID: sid, UID: uid}, true
}

// minMortalUID is the threshold below which a UID is considered a
// system account and spared by a non-aggressive sweep, matching
// killall5.c's MORTAL_GID-style system/privileged split. killall5.c
// deliberately raises this past the obvious round number of 100
// because UID 100 killed syslogd on Ubuntu.
const minMortalUID = 110

// SignalAllUsers stops every process, signals all user processes
// except the daemon's own process, init (pid 1) and kernel threads
// (SID 0), then
// resumes everything with SIGCONT. When aggressive is false it also
// spares members of the daemon's own session and processes owned by
// system (below-threshold) UIDs. The whole sequence is repeated twice
// by the caller to mitigate a transient snapshot allocation failure,
// matching killall5.c's documented double-call convention.
func SignalAllUsers(sig unix.Signal, aggressive bool) error {
	// Every process on the system is frozen for the duration of the
	// snapshot-and-signal sweep below, including whatever this process
	// would log through; suspend output until everything is resumed.
	prevLevel := wdlog.Suspend()
	defer wdlog.Resume(prevLevel)

	self := os.Getpid()
	selfSID, _ := unix.Getsid(self)

	_ = unix.Kill(-1, unix.SIGSTOP)

	procs, err := Snapshot()
	if err != nil {
		_ = unix.Kill(-1, unix.SIGCONT)
		return err
	}

	for _, p := range procs {
		if p.PID == self || p.PID == 1 {
			continue
		}
		if p.SID == 0 {
			continue // kernel thread
		}
		if !aggressive {
			if p.SID == selfSID {
				continue
			}
			if p.UID >= 0 && p.UID < minMortalUID {
				continue
			}
		}
		_ = unix.Kill(p.PID, sig)
	}

	return unix.Kill(-1, unix.SIGCONT)
}

// maxDepth bounds kill_tree's recursion so a re-parenting cycle cannot
// spin forever; exceeding it is logged as a warning, not treated as an
// error.
const maxDepth = 5

// KillTree stops pid, snapshots the process table, recurses into
// children first (so they are signalled strictly before their
// parent), signals each, then resumes each with SIGCONT.
func KillTree(pid int, sig unix.Signal) error {
	_ = unix.Kill(pid, unix.SIGSTOP)
	procs, err := Snapshot()
	if err != nil {
		_ = unix.Kill(pid, unix.SIGCONT)
		return err
	}
	byParent := childIndex(procs)

	var touched []int
	killTreeRecursive(pid, byParent, 0, func(p int) { _ = unix.Kill(p, unix.SIGSTOP) }, func(p int) { _ = unix.Kill(p, sig) }, &touched)

	for _, p := range touched {
		_ = unix.Kill(p, unix.SIGCONT)
	}
	return nil
}

func childIndex(procs []Proc) map[int][]int {
	byParent := make(map[int][]int)
	for _, p := range procs {
		byParent[p.PPID] = append(byParent[p.PPID], p.PID)
	}
	return byParent
}

// killTreeRecursive walks the tree depth-first, children before
// parent, invoking stop/signal callbacks so the signalling order can
// be verified without touching real processes in tests.
func killTreeRecursive(pid int, byParent map[int][]int, depth int, stop, signal func(int), touched *[]int) {
	if depth > maxDepth {
		log := wdlog.Default()
		log.Warn().Int("pid", pid).Int("max_depth", maxDepth).Msg("kill_tree recursion depth limit reached")
		return
	}
	stop(pid)

	children := append([]int(nil), byParent[pid]...)
	sort.Ints(children)
	for _, child := range children {
		killTreeRecursive(child, byParent, depth+1, stop, signal, touched)
	}

	signal(pid)
	*touched = append(*touched, pid)
}
