package probe

import (
	"strconv"
	"time"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/repair"
	"github.com/watchdogd-project/watchdogd/internal/sandbox"
	"github.com/watchdogd-project/watchdogd/internal/wdclock"
)

// PingProbe checks reachability of a target host. It shells out to the
// system ping(1) under the sandbox rather than opening a raw ICMP
// socket directly (golang.org/x/net/icmp would need CAP_NET_RAW or a
// setuid helper); reusing the sandbox's exec machinery keeps the
// privilege story identical to every other external-binary probe.
type PingProbe struct {
	Target  string
	Count   int
	Timeout time.Duration
	Pinger  wdclock.Pinger // fed to the sandbox wait so this probe's own (possibly long) timeout doesn't starve the hardware keep-alive
}

func NewPingProbe(target string, count int, timeout time.Duration, pinger wdclock.Pinger) *PingProbe {
	return &PingProbe{Target: target, Count: count, Timeout: timeout, Pinger: pinger}
}

func (p *PingProbe) Name() string            { return p.Target }
func (p *PingProbe) Version() repair.Version { return repair.VersionGlobalRepair }
func (p *PingProbe) RepairPath() string      { return "" }

func (p *PingProbe) Run() classify.Code {
	count := p.Count
	if count <= 0 {
		count = 1
	}
	res := sandbox.RunExec(p.Timeout, sandbox.ExecTask{
		Path: "/bin/ping",
		Argv: []string{"ping", "-c", strconv.Itoa(count), "-W", "2", p.Target},
	}, p.Pinger)
	if res.Code == classify.OK {
		return classify.OK
	}
	return classify.Code(252)
}
