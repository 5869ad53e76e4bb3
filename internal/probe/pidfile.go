package probe

import (
	"os"
	"strconv"
	"strings"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/repair"
	"golang.org/x/sys/unix"
)

// PidfileProbe checks that the process named in a pidfile is alive by
// sending signal 0, the standard liveness test.
type PidfileProbe struct {
	Path string
}

func NewPidfileProbe(path string) *PidfileProbe { return &PidfileProbe{Path: path} }

func (p *PidfileProbe) Name() string            { return p.Path }
func (p *PidfileProbe) Version() repair.Version { return repair.VersionGlobalRepair }
func (p *PidfileProbe) RepairPath() string      { return "" }

func (p *PidfileProbe) Run() classify.Code {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return classify.ErrUnknown
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return classify.ErrUnknown
	}
	if err := unix.Kill(pid, 0); err != nil {
		return classify.Code(251)
	}
	return classify.OK
}
