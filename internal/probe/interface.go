package probe

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/repair"
)

// InterfaceProbe checks that a network interface's received-byte
// counter has advanced since the last cycle, reading
// /proc/net/dev — the interface-byte-counter check of spec.md §3.
type InterfaceProbe struct {
	Iface       string
	lastCounter uint64
	haveLast    bool
}

func NewInterfaceProbe(iface string) *InterfaceProbe { return &InterfaceProbe{Iface: iface} }

func (i *InterfaceProbe) Name() string            { return i.Iface }
func (i *InterfaceProbe) Version() repair.Version { return repair.VersionGlobalRepair }
func (i *InterfaceProbe) RepairPath() string      { return "" }

func (i *InterfaceProbe) Run() classify.Code {
	counter, ok := readInterfaceRxBytes(i.Iface)
	if !ok {
		return classify.ErrUnknown
	}
	if !i.haveLast {
		i.lastCounter = counter
		i.haveLast = true
		return classify.OK
	}
	if counter == i.lastCounter {
		return classify.ErrNoChange
	}
	i.lastCounter = counter
	return classify.OK
}

func readInterfaceRxBytes(iface string) (uint64, bool) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if name != iface {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) == 0 {
			return 0, false
		}
		n, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
