package wdconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "watchdog.conf")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBasicOptions(t *testing.T) {
	path := writeTemp(t, `
# comment line
interval = 10
watchdog-timeout = 60
repair-maximum = 2
admin = root@localhost
file = /var/log/messages
file = /var/log/syslog
ping = 10.0.0.1
`)
	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v (warnings=%v)", err, warnings)
	}
	if cfg.Interval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", cfg.Interval)
	}
	if cfg.RepairMaximum != 2 {
		t.Errorf("repair-maximum = %d, want 2", cfg.RepairMaximum)
	}
	if len(cfg.Files) != 2 || cfg.Files[0].Name != "/var/log/messages" || cfg.Files[1].Name != "/var/log/syslog" {
		t.Errorf("file list not preserved in order: %+v", cfg.Files)
	}
	if len(cfg.PingTargets) != 1 || cfg.PingTargets[0].Name != "10.0.0.1" {
		t.Errorf("ping target not recorded: %+v", cfg.PingTargets)
	}
}

func TestWatchdogTimeoutMustExceedInterval(t *testing.T) {
	path := writeTemp(t, "interval = 60\nwatchdog-timeout = 60\n")
	_, _, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error when watchdog-timeout - interval < 2")
	}
}

func TestUnknownOptionWarns(t *testing.T) {
	path := writeTemp(t, "totally-bogus-option = 1\n")
	_, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("unknown option should not be fatal: %v", err)
	}
	if len(warnings) == 0 {
		t.Error("expected a warning for the unknown option")
	}
}

func TestLoadRcSUTCDefaultsTrue(t *testing.T) {
	utc, warn := LoadRcSUTC("/nonexistent/rcS")
	if !utc {
		t.Error("missing rcS should default UTC=true")
	}
	if warn == "" {
		t.Error("expected a warning when rcS is missing")
	}
}

func TestLoadRcSUTCParsesNo(t *testing.T) {
	path := writeTemp(t, "UTC=no\n")
	utc, warn := LoadRcSUTC(path)
	if utc {
		t.Error("expected UTC=false")
	}
	if warn != "" {
		t.Errorf("unexpected warning: %s", warn)
	}
}

func TestChangeSetsIntervalOnPrecedingFile(t *testing.T) {
	path := writeTemp(t, "watchdog-timeout = 60\nfile = /var/log/syslog\nchange = 90\n")
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Files) != 1 || cfg.Files[0].MtimeInterval != 90*time.Second {
		t.Fatalf("expected change to set a 90s interval on the preceding file, got %+v", cfg.Files)
	}
}

func TestChangeWithNoPrecedingFileWarns(t *testing.T) {
	path := writeTemp(t, "change = 90\n")
	_, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) == 0 {
		t.Error("expected a warning for change with no preceding file")
	}
}

func TestDiscoverTestBinaries(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "probe1")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	nonExe := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(nonExe, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := DiscoverTestBinaries(&cfg, dir); err != nil {
		t.Fatal(err)
	}
	if len(cfg.TestBinaries) != 1 || cfg.TestBinaries[0].Name != exe {
		t.Errorf("expected only the executable file discovered, got %+v", cfg.TestBinaries)
	}
}
