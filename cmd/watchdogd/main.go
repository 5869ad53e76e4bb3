// Command watchdogd is the supervisory daemon: it pets a hardware
// watchdog device on a fixed cadence, runs a configurable set of
// liveness probes, attempts repair on recoverable failures, and drives
// an orderly-or-brutal shutdown to a reboot syscall when a failure
// cannot be contained.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/watchdogd-project/watchdogd/internal/notify"
	"github.com/watchdogd-project/watchdogd/internal/probe"
	"github.com/watchdogd-project/watchdogd/internal/repair"
	"github.com/watchdogd-project/watchdogd/internal/shutdown"
	"github.com/watchdogd-project/watchdogd/internal/signals"
	"github.com/watchdogd-project/watchdogd/internal/supervisor"
	"github.com/watchdogd-project/watchdogd/internal/wdconfig"
	"github.com/watchdogd-project/watchdogd/internal/wddevice"
	"github.com/watchdogd-project/watchdogd/internal/wdlog"
)

// sysexits.h-style exit codes for startup failures.
const (
	exUsage  = 64
	exSysErr = 71
)

var (
	flagConfigFile string
	flagForeground bool
	flagForce      bool
	flagSync       bool
	flagNoAction   bool
	flagSoftboot   bool
	flagVerbose    int
	flagLoopExit   int
	flagPidFile    string
)

// legacyFlags are the single-letter options the original daemon used to
// take values for; they now do nothing but point at the config file.
var legacyFlags = []struct {
	short rune
	name  string
}{
	{'d', "change-interval"},
	{'i', "watchdog-timeout"},
	{'n', "alive-device"},
	{'p', "ping-targets"},
	{'a', "admin"},
	{'r', "repair-binary"},
	{'t', "test-timeout"},
	{'l', "log-dir"},
	{'m', "max-load"},
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exUsage)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "watchdogd",
		Short:        "Hardware watchdog supervisory daemon",
		SilenceUsage: true,
		RunE:         runDaemon,
	}

	cmd.Flags().StringVarP(&flagConfigFile, "config-file", "c", "/etc/watchdog.conf", "path to the configuration file")
	cmd.Flags().BoolVarP(&flagForeground, "foreground", "F", false, "stay in the foreground, logging to stderr")
	cmd.Flags().BoolVarP(&flagForce, "force", "f", false, "skip parameter sanity checks and the pidfile lock")
	cmd.Flags().BoolVarP(&flagSync, "sync", "s", false, "call sync() every cycle")
	cmd.Flags().BoolVarP(&flagNoAction, "no-action", "q", false, "suppress the reboot syscall; log what would have happened")
	cmd.Flags().BoolVarP(&flagSoftboot, "softboot", "b", false, "disable the repair retry-timeout suppression window")
	cmd.Flags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (repeatable)")
	cmd.Flags().IntVarP(&flagLoopExit, "loop-exit", "X", 0, "exit after N supervisory cycles (0 = unlimited)")
	cmd.Flags().StringVar(&flagPidFile, "pid-file", "/var/run/watchdogd.pid", "path to the pidfile")

	for _, lf := range legacyFlags {
		lf := lf
		cmd.Flags().StringP(lf.name, string(lf.short), "", "deprecated, use the config file instead")
		cmd.Flags().MarkHidden(lf.name)
	}

	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	for _, lf := range legacyFlags {
		if cmd.Flags().Changed(lf.name) {
			fmt.Fprintf(os.Stderr, "watchdogd: -%c/--%s is deprecated; set this option in %s instead\n", lf.short, lf.name, flagConfigFile)
			os.Exit(exUsage)
		}
	}

	cfg, warnings, err := wdconfig.Load(flagConfigFile)
	if err != nil {
		if !flagForce {
			return fmt.Errorf("loading %s: %w", flagConfigFile, err)
		}
		cfg = wdconfig.Default()
	}
	if utc, warn := wdconfig.LoadRcSUTC("/etc/default/rcS"); warn != "" {
		warnings = append(warnings, warn)
		cfg.UTC = utc
	} else {
		cfg.UTC = utc
	}
	if err := wdconfig.DiscoverTestBinaries(&cfg, cfg.TestDirectory); err != nil {
		warnings = append(warnings, fmt.Sprintf("test-directory %q: %v", cfg.TestDirectory, err))
	}

	if flagSoftboot {
		cfg.RetryTimeout = 0
	}
	if flagVerbose > 0 {
		cfg.Verbose += flagVerbose
	}

	log := buildLogger(cfg)
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	var fileLock *flock.Flock
	if !flagForce {
		fileLock = flock.New(flagPidFile + ".lock")
		locked, err := fileLock.TryLock()
		if err != nil || !locked {
			return fmt.Errorf("another watchdogd instance holds %s", flagPidFile)
		}
		defer fileLock.Unlock()
		if err := os.WriteFile(flagPidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
			log.Error().Err(err).Msg("could not write pidfile")
			if !flagForce {
				os.Exit(exSysErr)
			}
		}
		defer os.Remove(flagPidFile)
	}

	var device *wddevice.Handle
	if !flagNoAction {
		device, err = wddevice.Open(cfg.WatchdogDevice, int(cfg.WatchdogTimeout.Seconds()))
		if err != nil {
			log.Error().Err(err).Msg("could not open watchdog device")
			// A non-nil handle means only the timeout configuration
			// failed; the device is still usable for keep-alive.
			if device == nil && !flagForce {
				os.Exit(exSysErr)
			}
		}
	}
	defer func() {
		if device != nil {
			device.Close()
		}
	}()

	if cfg.Realtime {
		applyRealtimeDiscipline(log)
		defer func() {
			_ = unix.Munlockall()
			_ = unix.Setpriority(unix.PRIO_PROCESS, 0, 0)
		}()
	}

	registry := buildRegistry(cfg, device, log)

	policy := &repair.Policy{
		RetryTimeout:  cfg.RetryTimeout,
		RepairMax:     cfg.RepairMaximum,
		RepairBinary:  cfg.RepairBinary,
		RepairTimeout: cfg.RepairTimeout,
		Pinger:        devicePinger(device),
	}

	var notifier *notify.Notifier
	if cfg.Admin != "" {
		notifier = notify.NewNotifier(cfg.Admin)
	}

	shutCfg := shutdown.Config{
		PidFile:             flagPidFile,
		SigtermDelay:        cfg.SigtermDelay,
		TemperaturePoweroff: cfg.TemperaturePoweroff,
		UTC:                 cfg.UTC,
		SeedFile:            "/var/lib/watchdogd/random-seed",
		Device:              device,
		DeviceTimeout:       cfg.WatchdogTimeout,
		Notifier:            notifier,
		NoAction:            flagNoAction,
	}

	stop := &signals.StopFlag{}
	cancel := signals.Intake(stop)
	defer cancel()

	sup := supervisor.New(log, device, cfg.Interval, registry, policy, stop, shutCfg)
	sup.Sync = flagSync
	sup.NoAction = flagNoAction
	sup.LoopExit = flagLoopExit
	sup.MaxLoad1, sup.MaxLoad5, sup.MaxLoad15 = cfg.MaxLoad1, cfg.MaxLoad5, cfg.MaxLoad15
	sup.MinMemoryKB, sup.AllocatableKB = cfg.MinMemory, cfg.AllocatableMemory

	log.Info().Int("pid", os.Getpid()).Str("device", cfg.WatchdogDevice).Msg("watchdogd starting")
	cycles := sup.Run()
	log.Info().Int("cycles", cycles).Msg("watchdogd exiting on cooperative stop")
	return nil
}

func buildLogger(cfg wdconfig.Config) zerolog.Logger {
	if flagForeground || term.IsTerminal(int(os.Stderr.Fd())) {
		return wdlog.New(os.Stderr, true, cfg.Verbose)
	}
	if cfg.LogDir == "" {
		return wdlog.Default()
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return wdlog.Default()
	}
	f, err := os.OpenFile(filepath.Join(cfg.LogDir, "watchdogd.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return wdlog.Default()
	}
	return wdlog.New(f, false, cfg.Verbose)
}

// buildRegistry wires every configured probe descriptor list into the
// dispatch registry, in the fixed order spec.md §4.7 prescribes.
func buildRegistry(cfg wdconfig.Config, device *wddevice.Handle, log zerolog.Logger) *probe.Registry {
	reg := probe.NewRegistry()
	pinger := devicePinger(device)

	for _, d := range cfg.TemperatureSensors {
		reg.Register(probe.NewTemperatureProbe(d.Name, cfg.MaxTemperature))
	}
	for _, d := range cfg.Files {
		interval := d.MtimeInterval
		if interval <= 0 {
			interval = cfg.Interval * 2
		}
		fp := probe.NewFileProbe(d.Name, interval)
		if watcher, err := probe.WatchFile(d.Name); err != nil {
			log.Warn().Err(err).Str("file", d.Name).Msg("fsnotify watch unavailable, falling back to mtime polling only")
		} else {
			fp.Watcher = watcher
		}
		reg.Register(fp)
	}
	for _, d := range cfg.Pidfiles {
		reg.Register(probe.NewPidfileProbe(d.Name))
	}
	for _, d := range cfg.Interfaces {
		reg.Register(probe.NewInterfaceProbe(d.Name))
	}
	for _, d := range cfg.PingTargets {
		reg.Register(probe.NewPingProbe(d.Name, cfg.PingCount, cfg.TestTimeout, pinger))
	}
	for _, d := range cfg.TestBinaries {
		reg.Register(probe.NewTestBinaryProbe(d.Name, cfg.TestTimeout, d.SelfRepair, pinger))
	}
	return reg
}

func devicePinger(device *wddevice.Handle) *wddevice.Handle {
	return device
}

// applyRealtimeDiscipline locks the process address space and raises
// scheduling priority, per spec.md §5's optional real-time discipline.
func applyRealtimeDiscipline(log zerolog.Logger) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		log.Warn().Err(err).Msg("mlockall failed, continuing without memory lock")
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -10); err != nil {
		log.Warn().Err(err).Msg("setpriority failed, continuing at default priority")
	}
}
