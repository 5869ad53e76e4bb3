package probe

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/watchdogd-project/watchdogd/internal/classify"
)

func TestFileProbeDetectsStaleness(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heartbeat")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	p := NewFileProbe(path, 50*time.Millisecond)
	if code := p.Run(); code != classify.OK {
		t.Fatalf("first run should be OK (establishes baseline), got %v", code)
	}

	time.Sleep(100 * time.Millisecond)
	if code := p.Run(); code == classify.OK {
		t.Fatal("expected staleness detected after interval elapsed with no touch")
	}

	if err := os.Chtimes(path, time.Now(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if code := p.Run(); code != classify.OK {
		t.Fatalf("touching the file should clear staleness, got %v", code)
	}
}

func TestPidfileProbeLiveSelf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		t.Fatal(err)
	}
	p := NewPidfileProbe(path)
	if code := p.Run(); code != classify.OK {
		t.Fatalf("own pid should be alive, got %v", code)
	}
}

func TestPidfileProbeDeadProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")
	// pid 999999 is extremely unlikely to exist.
	if err := os.WriteFile(path, []byte("999999"), 0644); err != nil {
		t.Fatal(err)
	}
	p := NewPidfileProbe(path)
	if code := p.Run(); code == classify.OK {
		t.Fatal("expected dead-process code for a nonexistent pid")
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFileProbe("/a", time.Second))
	r.Register(NewFileProbe("/b", time.Second))
	r.Register(NewFileProbe("/c", time.Second))

	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	names := []string{entries[0].Probe.Name(), entries[1].Probe.Name(), entries[2].Probe.Name()}
	want := []string{"/a", "/b", "/c"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("registry order not preserved: got %v, want %v", names, want)
		}
	}
}
