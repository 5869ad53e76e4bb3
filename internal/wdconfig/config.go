// Package wdconfig parses the watchdog daemon's configuration file and
// the UTC setting out of /etc/default/rcS, using the same
// line-oriented "key = value" grammar for both, matching
// original_source/src/configfile.c.
package wdconfig

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Range bounds, mirrored from configfile.c's option table.
const (
	minWatchdogTimeout = 1
	maxWatchdogTimeout = 3600
	maxTime            = 65535
	maxLoad            = 100000 // max-load-N is a plain load average; generous ceiling
)

// ProbeDescriptor is one configured probe of a given kind, list-valued
// options preserve the order they appeared in the file.
type ProbeDescriptor struct {
	Kind          string // "file", "ping", "pidfile", "interface", "temperature-sensor", "test-binary"
	Name          string // path, hostname, interface name, or sensor path
	SelfRepair    bool   // test-binary only: true for test-directory auto-discovery (version 1), false for an explicit `test-binary =` line (version 0)
	MtimeInterval time.Duration // file only: set by a `change = N` line following the `file =` line it applies to, 0 if unset
}

// Config is the immutable, validated snapshot of everything the
// original_source configuration file can express.
type Config struct {
	Interval            time.Duration
	LogTick             time.Duration
	Priority             int
	Realtime             bool
	MaxLoad1, MaxLoad5, MaxLoad15 float64
	MinMemory            int
	AllocatableMemory    int
	MaxTemperature       int
	PingCount            int
	TemperaturePoweroff  bool
	SigtermDelay         time.Duration
	RepairMaximum        int
	RetryTimeout         time.Duration
	TestTimeout          time.Duration
	RepairTimeout        time.Duration
	WatchdogTimeout      time.Duration
	Admin                string
	WatchdogDevice       string
	RepairBinary         string
	HeartbeatFile        string
	HeartbeatStamps      int
	LogDir               string
	TestDirectory        string
	Verbose              int // repeatable -v count

	Files              []ProbeDescriptor
	PingTargets        []ProbeDescriptor
	Pidfiles           []ProbeDescriptor
	Interfaces         []ProbeDescriptor
	TemperatureSensors []ProbeDescriptor
	TestBinaries       []ProbeDescriptor

	UTC bool // from /etc/default/rcS, defaults true
}

// Default returns a Config populated with the same defaults
// configfile.c falls back to when an option is absent.
func Default() Config {
	return Config{
		Interval:        1 * time.Second,
		LogTick:         1 * time.Minute,
		WatchdogTimeout: 60 * time.Second,
		RepairTimeout:   60 * time.Second,
		TestTimeout:     60 * time.Second,
		SigtermDelay:    5 * time.Second,
		HeartbeatStamps: 10,
		WatchdogDevice:  "/dev/watchdog",
		LogDir:          "/var/log/watchdog",
		PingCount:       3,
		UTC:             true,
	}
}

// Load reads and validates a configuration file at path, starting from
// Default(). Unknown keys log a warning via the returned warnings
// slice (the caller decides how to surface them) and are skipped.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	warnings, err := parseInto(path, &cfg, applyConfigKey)
	if err != nil {
		return cfg, warnings, err
	}
	if cfg.WatchdogTimeout-cfg.Interval < 2*time.Second {
		return cfg, warnings, fmt.Errorf("watchdog-timeout (%s) must exceed interval (%s) by at least 2s", cfg.WatchdogTimeout, cfg.Interval)
	}
	return cfg, warnings, nil
}

// LoadRcSUTC reads /etc/default/rcS (or the given path) for UTC=yes|no
// using the same grammar, defaulting to true with a warning if the
// file or key is absent.
func LoadRcSUTC(path string) (bool, string) {
	utc := true
	found := false
	_, err := parseInto(path, nil, func(cfg *Config, key, value string) (string, bool) {
		if key == "UTC" {
			found = true
			utc = parseYesNo(value, true)
		}
		return "", true
	})
	if err != nil {
		return true, fmt.Sprintf("could not read %s (%v), defaulting UTC=yes", path, err)
	}
	if !found {
		return true, fmt.Sprintf("no UTC setting in %s, defaulting UTC=yes", path)
	}
	return utc, ""
}

type applyFunc func(cfg *Config, key, value string) (warning string, ok bool)

func parseInto(path string, cfg *Config, apply applyFunc) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var warnings []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			warnings = append(warnings, fmt.Sprintf("malformed line (no '='): %q", line))
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if warn, ok := apply(cfg, key, value); !ok {
			warnings = append(warnings, fmt.Sprintf("unknown option %q, skipped", key))
		} else if warn != "" {
			warnings = append(warnings, warn)
		}
	}
	if err := scanner.Err(); err != nil {
		return warnings, err
	}
	return warnings, nil
}

func applyConfigKey(cfg *Config, key, value string) (string, bool) {
	switch key {
	case "interval":
		return setRangeSeconds(&cfg.Interval, value, 1, maxWatchdogTimeout)
	case "logtick":
		return setRangeSeconds(&cfg.LogTick, value, 1, maxTime)
	case "priority":
		return setRangeInt(&cfg.Priority, value, 0, 100)
	case "realtime":
		cfg.Realtime = parseYesNo(value, false)
		return "", true
	case "max-load-1":
		return setRangeFloat(&cfg.MaxLoad1, value, 0, maxLoad)
	case "max-load-5":
		return setRangeFloat(&cfg.MaxLoad5, value, 0, maxLoad)
	case "max-load-15":
		return setRangeFloat(&cfg.MaxLoad15, value, 0, maxLoad)
	case "min-memory":
		return setRangeInt(&cfg.MinMemory, value, 0, 1<<30)
	case "allocatable-memory":
		return setRangeInt(&cfg.AllocatableMemory, value, 0, 1<<30)
	case "max-temperature":
		return setRangeInt(&cfg.MaxTemperature, value, 30, 150)
	case "ping-count":
		return setRangeInt(&cfg.PingCount, value, 1, 100)
	case "temperature-poweroff":
		cfg.TemperaturePoweroff = parseYesNo(value, false)
		return "", true
	case "sigterm-delay":
		return setRangeSeconds(&cfg.SigtermDelay, value, 2, 300)
	case "repair-maximum":
		return setRangeInt(&cfg.RepairMaximum, value, 0, 100)
	case "retry-timeout":
		return setRangeSeconds(&cfg.RetryTimeout, value, 0, maxTime)
	case "test-timeout":
		return setRangeSeconds(&cfg.TestTimeout, value, 0, maxTime)
	case "repair-timeout":
		return setRangeSeconds(&cfg.RepairTimeout, value, 0, maxTime)
	case "watchdog-timeout":
		return setRangeSeconds(&cfg.WatchdogTimeout, value, minWatchdogTimeout, maxWatchdogTimeout)
	case "admin":
		cfg.Admin = value
		return "", true
	case "watchdog-device":
		cfg.WatchdogDevice = value
		return "", true
	case "repair-binary":
		cfg.RepairBinary = value
		return "", true
	case "heartbeat-file":
		cfg.HeartbeatFile = value
		return "", true
	case "heartbeat-stamps":
		return setRangeInt(&cfg.HeartbeatStamps, value, 10, 500)
	case "log-dir":
		cfg.LogDir = value
		return "", true
	case "test-directory":
		cfg.TestDirectory = value
		return "", true
	case "verbose":
		if parseYesNo(value, false) {
			cfg.Verbose++
		}
		return "", true
	case "file":
		cfg.Files = append(cfg.Files, ProbeDescriptor{Kind: "file", Name: value})
		return "", true
	case "change":
		if len(cfg.Files) == 0 {
			return "change interval given but no file configured yet (line ignored)", true
		}
		return setRangeSeconds(&cfg.Files[len(cfg.Files)-1].MtimeInterval, value, 1, maxWatchdogTimeout)
	case "ping":
		cfg.PingTargets = append(cfg.PingTargets, ProbeDescriptor{Kind: "ping", Name: value})
		return "", true
	case "pidfile":
		cfg.Pidfiles = append(cfg.Pidfiles, ProbeDescriptor{Kind: "pidfile", Name: value})
		return "", true
	case "interface":
		cfg.Interfaces = append(cfg.Interfaces, ProbeDescriptor{Kind: "interface", Name: value})
		return "", true
	case "temperature-sensor":
		cfg.TemperatureSensors = append(cfg.TemperatureSensors, ProbeDescriptor{Kind: "temperature-sensor", Name: value})
		return "", true
	case "test-binary":
		cfg.TestBinaries = append(cfg.TestBinaries, ProbeDescriptor{Kind: "test-binary", Name: value})
		return "", true
	default:
		return "", false
	}
}

func setRangeSeconds(dst *time.Duration, value string, min, max int) (string, bool) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Sprintf("invalid integer value %q", value), true
	}
	warn := ""
	if n < min {
		warn = fmt.Sprintf("value %d below minimum %d, clamped", n, min)
		n = min
	} else if n > max {
		warn = fmt.Sprintf("value %d above maximum %d, clamped", n, max)
		n = max
	}
	*dst = time.Duration(n) * time.Second
	return warn, true
}

func setRangeInt(dst *int, value string, min, max int) (string, bool) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Sprintf("invalid integer value %q", value), true
	}
	warn := ""
	if n < min {
		warn = fmt.Sprintf("value %d below minimum %d, clamped", n, min)
		n = min
	} else if n > max {
		warn = fmt.Sprintf("value %d above maximum %d, clamped", n, max)
		n = max
	}
	*dst = n
	return warn, true
}

func setRangeFloat(dst *float64, value string, min, max float64) (string, bool) {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Sprintf("invalid float value %q", value), true
	}
	warn := ""
	if n < min {
		warn = fmt.Sprintf("value %g below minimum %g, clamped", n, min)
		n = min
	} else if n > max {
		warn = fmt.Sprintf("value %g above maximum %g, clamped", n, max)
		n = max
	}
	*dst = n
	return warn, true
}

func parseYesNo(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "1":
		return true
	case "no", "false", "0":
		return false
	default:
		return fallback
	}
}

// DiscoverTestBinaries scans dir for regular, executable, non-hidden
// files and appends them to cfg.TestBinaries as version-1 (self-testing)
// descriptors, matching the test-directory auto-discovery rule.
func DiscoverTestBinaries(cfg *Config, dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := os.Stat(dir + "/" + e.Name())
		if err != nil || !info.Mode().IsRegular() || info.Mode()&0111 == 0 {
			continue
		}
		cfg.TestBinaries = append(cfg.TestBinaries, ProbeDescriptor{Kind: "test-binary", Name: dir + "/" + e.Name(), SelfRepair: true})
	}
	return nil
}
