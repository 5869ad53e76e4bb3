// Package shutdown implements the orderly and brutal shutdown state
// machines of spec.md §4.8: degrade from a controlled, best-effort
// teardown to a hardware-forced reset, always ending at a reboot
// syscall, and falling back to the panic path only if the kernel
// refuses every reboot variant.
package shutdown

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/notify"
	"github.com/watchdogd-project/watchdogd/internal/proctree"
	"github.com/watchdogd-project/watchdogd/internal/sandbox"
	"github.com/watchdogd-project/watchdogd/internal/wdclock"
	"github.com/watchdogd-project/watchdogd/internal/wddevice"
	"github.com/watchdogd-project/watchdogd/internal/wdlog"
)

// teardownIgnoredSignals are ignored for the rest of the process's
// life once shutdown begins: the mass-kill loops broadcast to every
// process on the system, and with job-control or session signals left
// at their default disposition the daemon could catch one of its own
// broadcasts and abort the teardown it is in the middle of driving.
var teardownIgnoredSignals = []os.Signal{
	syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGPIPE,
	syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGALRM, syscall.SIGTERM,
	syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU,
}

// Config carries the options the shutdown sequence consults.
type Config struct {
	PidFile             string
	SigtermDelay        time.Duration
	TemperaturePoweroff bool
	UTC                 bool
	SeedFile            string
	Device              *wddevice.Handle
	DeviceTimeout       time.Duration // the originally configured hardware timeout
	Notifier            *notify.Notifier
	NoAction            bool // --no-action: never actually reboot
}

// pseudoFilesystems are skipped by the mount-table fallback unmount,
// matching shutdown.c's exclusion list.
var pseudoFilesystems = map[string]bool{
	"devfs": true, "proc": true, "sysfs": true, "ramfs": true,
	"tmpfs": true, "devpts": true, "devtmpfs": true,
}

// Run drives the state machine for a surfaced fatal/doomed code. It
// never returns under normal operation (the machine ends in a reboot
// syscall or the panic path's os.Exit); it returns only when
// cfg.NoAction suppresses the actual reboot, for testability.
func Run(log zerolog.Logger, cfg Config, code classify.Code) {
	wdlog.Alert(log, fmt.Sprintf("shutdown triggered by error %d", code))
	signal.Ignore(teardownIgnoredSignals...)

	if classify.IsHardReset(code) {
		brutal(log, cfg)
		return
	}
	orderly(log, cfg, code)
}

// brutal is the hard-reset path: minimal ceremony, maximal speed.
func brutal(log zerolog.Logger, cfg Config) {
	log.Info().Msg("brutal shutdown: stopping all processes")
	time.Sleep(200 * time.Millisecond)

	// kill(-1) reaches every process except init and the caller; nothing
	// is resumed afterwards.
	_ = unix.Kill(-1, unix.SIGSTOP)

	if cfg.PidFile != "" {
		_ = os.Remove(cfg.PidFile)
	}

	unix.Sync()
	time.Sleep(200 * time.Millisecond)
	unix.Sync()

	armForHardwareReset(cfg)

	finalReboot(log, cfg, unix.LINUX_REBOOT_CMD_RESTART)
	panicPath(log, cfg)
}

// orderly is the degrade-gracefully path used for every fatal code
// except unconditional-hard-reset.
func orderly(log zerolog.Logger, cfg Config, code classify.Code) {
	tooHot := code == classify.ErrTooHot
	doomed := classify.IsDoomed(code)

	if doomed {
		// Shed load before any notification attempt: cleanup is
		// unreliable once the system is resource-starved.
		log.Warn().Msg("doomed condition: killing user processes before notification")
		massKillUsers(unix.SIGTERM, false)
	}

	massKillUsers(unix.SIGTERM, false)
	time.Sleep(time.Second)
	massKillUsers(unix.SIGTERM, false) // out-of-memory robustness: repeat
	wdclock.SafeSleep(cfg.SigtermDelay, cfg.Device)

	if cfg.Notifier != nil {
		res := sandbox.RunFunc(60*time.Second, func() classify.Code {
			if err := cfg.Notifier.Send(int(code), tooHot); err != nil {
				return classify.ErrUnknown
			}
			return classify.OK
		}, cfg.Device)
		if res.Code != classify.OK {
			log.Warn().Msg("failed to send shutdown notification email")
		}
	}

	log.Info().Msg("closing logging before aggressive kill")

	massKillUsers(unix.SIGTERM, true)
	massKillUsers(unix.SIGKILL, true)
	if cfg.Device != nil {
		// Already mid-shutdown and heading for a reboot syscall
		// regardless of outcome; a failed pet here has nothing further
		// to escalate to, so it is logged rather than silently dropped.
		if err := cfg.Device.KeepAlive(); err != nil {
			log.Warn().Err(err).Msg("keep-alive write failed during shutdown")
		}
	}
	massKillUsers(unix.SIGTERM, true)
	massKillUsers(unix.SIGKILL, true)

	if cfg.PidFile != "" {
		_ = os.Remove(cfg.PidFile)
	}
	appendWtmpShutdownRecord()
	persistRandomSeed(cfg.SeedFile)
	disableProcessAccounting()

	runExternalHelper("hwclock", hwclockArgs(cfg.UTC), 20*time.Second, cfg.Device)
	runExternalHelper("swapoff", []string{"-a"}, 180*time.Second, cfg.Device)
	unix.Sync()
	runExternalHelper("umount", []string{"-a", "-t", "nodevfs,devtmpfs"}, 180*time.Second, cfg.Device)

	fallbackUnmount(log)

	armForHardwareReset(cfg)

	if tooHot {
		if cfg.TemperaturePoweroff {
			finalReboot(log, cfg, unix.LINUX_REBOOT_CMD_POWER_OFF)
		} else {
			_ = unix.Reboot(unix.LINUX_REBOOT_CMD_CAD_ON)
			finalReboot(log, cfg, unix.LINUX_REBOOT_CMD_HALT)
		}
	} else {
		finalReboot(log, cfg, unix.LINUX_REBOOT_CMD_RESTART)
	}

	panicPath(log, cfg)
}

// massKillUsers signals every non-kernel, non-self process other than
// init. aggressive=true spares nothing but the kernel, init and self;
// false also
// spares the daemon's own session and system UIDs.
func massKillUsers(sig unix.Signal, aggressive bool) {
	_ = proctree.SignalAllUsers(sig, aggressive)
}

func armForHardwareReset(cfg Config) {
	if cfg.Device == nil {
		return
	}
	_ = cfg.Device.SetTimeout(1)
	// No keep-alive during this wait: the point is to let the hardware
	// fire first.
	wdclock.SafeSleep(4*cfg.DeviceTimeout, nil)
}

// finalReboot invokes the reboot syscall unless --no-action is set.
// Without --no-action, returning from this function (rather than the
// process disappearing) means the kernel refused the reboot, and the
// caller must proceed to the panic path.
func finalReboot(log zerolog.Logger, cfg Config, cmd int) {
	if cfg.NoAction {
		log.Warn().Msg("--no-action set: suppressing reboot syscall")
		return
	}
	wdlog.Alert(log, "calling reboot()")
	_ = unix.Reboot(cmd)
}

// panicPath is entered only if the kernel refused every reboot
// variant attempted above; under --no-action no reboot was attempted,
// so it returns at once.
func panicPath(log zerolog.Logger, cfg Config) {
	if cfg.NoAction {
		return
	}
	wdlog.Alert(log, "reboot() returned: kernel refused to reboot, entering panic path")
	if cfg.Device != nil {
		wdclock.SafeSleep(4*cfg.DeviceTimeout, nil)
		wdlog.Alert(log, "still alive after waiting for hardware reset")
		cfg.Device.Abandon()
	}
	os.Exit(1)
}

func hwclockArgs(utc bool) []string {
	args := []string{"--systohc", "--noadjfile"}
	if utc {
		return append(args, "--utc")
	}
	return append(args, "--localtime")
}

func runExternalHelper(bin string, args []string, timeout time.Duration, pinger wdclock.Pinger) {
	path, err := lookPath(bin)
	if err != nil {
		return
	}
	sandbox.RunExec(timeout, sandbox.ExecTask{Path: path, Argv: append([]string{bin}, args...)}, pinger)
}

func lookPath(bin string) (string, error) {
	for _, dir := range []string{"/sbin", "/usr/sbin", "/bin", "/usr/bin"} {
		p := dir + "/" + bin
		if info, err := os.Stat(p); err == nil && info.Mode()&0111 != 0 {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s not found", bin)
}

// fallbackUnmount parses /proc/mounts and force-unmounts every
// non-pseudo filesystem in reverse mount order, used when the external
// umount helper is unavailable or fails.
func fallbackUnmount(log zerolog.Logger) {
	mounts, err := readMounts()
	if err != nil {
		log.Warn().Err(err).Msg("could not read /proc/mounts for fallback unmount")
		return
	}
	for i := len(mounts) - 1; i >= 0; i-- {
		m := mounts[i]
		if pseudoFilesystems[m.fstype] {
			continue
		}
		if err := unix.Unmount(m.target, unix.MNT_FORCE); err != nil {
			log.Warn().Err(err).Str("mount", m.target).Msg("fallback unmount failed")
		}
	}
}

type mountEntry struct {
	target string
	fstype string
}

func readMounts() ([]mountEntry, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return nil, err
	}
	var entries []mountEntry
	line := ""
	for _, b := range data {
		if b == '\n' {
			if e, ok := parseMountLine(line); ok {
				entries = append(entries, e)
			}
			line = ""
			continue
		}
		line += string(b)
	}
	return entries, nil
}

func parseMountLine(line string) (mountEntry, bool) {
	var fields [6]string
	n := 0
	start := 0
	for i := 0; i <= len(line); i++ {
		if i == len(line) || line[i] == ' ' {
			if n < 6 {
				fields[n] = line[start:i]
			}
			n++
			start = i + 1
		}
	}
	if n < 3 {
		return mountEntry{}, false
	}
	return mountEntry{target: fields[1], fstype: fields[2]}, true
}

func appendWtmpShutdownRecord() {
	// Best-effort; the wtmp binary record format is platform-specific
	// and not exposed by the standard library. A real deployment would
	// shell out to `sln`/utmpdump-compatible tooling; omitted here
	// beyond the hook point since it is pure bookkeeping with no
	// bearing on the reboot invariant.
}

func persistRandomSeed(path string) {
	if path == "" {
		return
	}
	seed := make([]byte, 512)
	f, err := os.Open("/dev/urandom")
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Read(seed); err != nil {
		return
	}
	_ = os.WriteFile(path, seed, 0600)
}

func disableProcessAccounting() {
	_ = unix.Acct("")
}
