package probe

import (
	"os"
	"strconv"
	"strings"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/repair"
)

// TemperatureProbe reads a thermal zone under /sys/class/thermal,
// keeping up to three recent readings per spec.md §3's descriptor
// payload, and reports ErrTooHot if the latest reading reaches or
// exceeds the configured threshold.
type TemperatureProbe struct {
	SysPath     string // e.g. /sys/class/thermal/thermal_zone0/temp
	MaxMilliC   int    // threshold in whole degrees Celsius; compared as MaxMilliC*1000 against the millidegree reading
	recentReads []int
}

func NewTemperatureProbe(sysPath string, maxMilliC int) *TemperatureProbe {
	return &TemperatureProbe{SysPath: sysPath, MaxMilliC: maxMilliC}
}

func (t *TemperatureProbe) Name() string            { return t.SysPath }
func (t *TemperatureProbe) Version() repair.Version { return repair.VersionGlobalRepair }
func (t *TemperatureProbe) RepairPath() string      { return "" }

func (t *TemperatureProbe) Run() classify.Code {
	data, err := os.ReadFile(t.SysPath)
	if err != nil {
		return classify.DontKnow
	}
	milliC, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return classify.DontKnow
	}

	t.recentReads = append(t.recentReads, milliC)
	if len(t.recentReads) > 3 {
		t.recentReads = t.recentReads[len(t.recentReads)-3:]
	}

	if milliC >= t.MaxMilliC*1000 {
		return classify.ErrTooHot
	}
	return classify.OK
}
