package probe

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher supplements FileProbe with an fsnotify watch so a touch
// between polls is observed immediately rather than only at the next
// cycle's os.Stat. It is optional: if the watch cannot be established
// (e.g. the file lives on a filesystem fsnotify doesn't support), the
// FileProbe's authoritative mtime poll still runs every cycle
// regardless, per SPEC_FULL.md's domain-stack note — this is a
// fast-path supplement, never a replacement.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	touched atomic.Bool
}

// WatchFile starts watching path for writes. Call Close when done.
func WatchFile(path string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}
	fw := &FileWatcher{watcher: w}
	go fw.loop()
	return fw, nil
}

func (fw *FileWatcher) loop() {
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				fw.touched.Store(true)
			}
		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// RecentlyTouched reports and clears whether a write was observed
// since the last call.
func (fw *FileWatcher) RecentlyTouched() bool {
	return fw.touched.Swap(false)
}

// Close stops the watch.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
