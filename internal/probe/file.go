package probe

import (
	"os"
	"time"

	"github.com/watchdogd-project/watchdogd/internal/classify"
	"github.com/watchdogd-project/watchdogd/internal/repair"
)

// FileProbe checks that a file's mtime has advanced within the
// configured interval — the classic watchdog(8) "is some service still
// writing its log/heartbeat file" check.
type FileProbe struct {
	Path     string
	Interval time.Duration
	Watcher  *FileWatcher // optional fsnotify fast path, may be nil
	lastSeen time.Time
}

func NewFileProbe(path string, interval time.Duration) *FileProbe {
	return &FileProbe{Path: path, Interval: interval}
}

func (f *FileProbe) Name() string           { return f.Path }
func (f *FileProbe) Version() repair.Version { return repair.VersionGlobalRepair }
func (f *FileProbe) RepairPath() string     { return "" }

func (f *FileProbe) Run() classify.Code {
	if f.Watcher != nil && f.Watcher.RecentlyTouched() {
		f.lastSeen = time.Now()
		return classify.OK
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		return classify.ErrUnknown
	}
	mtime := info.ModTime()
	if f.lastSeen.IsZero() {
		f.lastSeen = mtime
		return classify.OK
	}
	if mtime.After(f.lastSeen) {
		f.lastSeen = mtime
		return classify.OK
	}
	if time.Since(mtime) > f.Interval {
		return classify.Code(250)
	}
	return classify.OK
}
