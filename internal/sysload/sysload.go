// Package sysload implements the system-wide checks that are not
// per-descriptor probes: file-table pressure, load averages, free
// memory, and allocatable memory. These are the "memory/load timer"
// results spec.md treats as ungrouped — they carry no repair
// descriptor and are evaluated with a nil repair.State.
package sysload

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/watchdogd-project/watchdogd/internal/classify"
)

// CheckFileTable reports classify.ErrMaxLoad if the kernel's open file
// table is close to exhaustion, read from /proc/sys/fs/file-nr's
// "allocated free max" triple.
func CheckFileTable() classify.Code {
	data, err := os.ReadFile("/proc/sys/fs/file-nr")
	if err != nil {
		return classify.DontKnow
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return classify.DontKnow
	}
	allocated, err1 := strconv.ParseInt(fields[0], 10, 64)
	max, err2 := strconv.ParseInt(fields[2], 10, 64)
	if err1 != nil || err2 != nil || max == 0 {
		return classify.DontKnow
	}
	if allocated*100/max >= 95 {
		return classify.ErrMaxLoad
	}
	return classify.OK
}

// CheckLoad reads /proc/loadavg and reports classify.ErrMaxLoad if any
// of the configured 1/5/15-minute ceilings is exceeded, or
// classify.ErrNoLoadData if the file cannot be parsed.
func CheckLoad(max1, max5, max15 float64) classify.Code {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return classify.ErrNoLoadData
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return classify.ErrNoLoadData
	}
	l1, err1 := strconv.ParseFloat(fields[0], 64)
	l5, err2 := strconv.ParseFloat(fields[1], 64)
	l15, err3 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return classify.ErrNoLoadData
	}
	if exceeds(max1, l1) || exceeds(max5, l5) || exceeds(max15, l15) {
		return classify.ErrMaxLoad
	}
	return classify.OK
}

func exceeds(ceiling, value float64) bool {
	return ceiling > 0 && value > ceiling
}

// meminfo reads the key fields out of /proc/meminfo, in kB, as
// watchdog.c's check_memory/check_allocatable read them.
func meminfo() (map[string]int64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, false
	}
	defer f.Close()

	out := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		fields := strings.Fields(line[idx+1:])
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		out[key] = n
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// CheckMemory reports classify.ErrInvalidMeminfo if MemFree (kB) drops
// below minMemoryKB.
func CheckMemory(minMemoryKB int) classify.Code {
	if minMemoryKB <= 0 {
		return classify.OK
	}
	m, ok := meminfo()
	if !ok {
		return classify.ErrInvalidMeminfo
	}
	free, present := m["MemFree"]
	if !present {
		return classify.ErrInvalidMeminfo
	}
	if free < int64(minMemoryKB) {
		return classify.ErrInvalidMeminfo
	}
	return classify.OK
}

// CheckAllocatable reports classify.ErrInvalidMeminfo if the sum of
// MemFree and the reclaimable Cached/Buffers pages drops below
// allocatableKB, approximating what could actually be handed out to a
// new allocation.
func CheckAllocatable(allocatableKB int) classify.Code {
	if allocatableKB <= 0 {
		return classify.OK
	}
	m, ok := meminfo()
	if !ok {
		return classify.ErrInvalidMeminfo
	}
	available := m["MemFree"] + m["Cached"] + m["Buffers"]
	if available < int64(allocatableKB) {
		return classify.ErrInvalidMeminfo
	}
	return classify.OK
}
