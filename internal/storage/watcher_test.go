package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) add(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) has(want Change) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.changes {
		if c == want {
			return true
		}
	}
	return false
}

func startWatch(t *testing.T) (*FS, *recorder) {
	t.Helper()
	s := tempData(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &recorder{}
	go Watch(ctx, s.Root(), logger, rec.add)
	time.Sleep(100 * time.Millisecond)
	return s, rec
}

func TestWatchReportsCreate(t *testing.T) {
	s, rec := startWatch(t)
	_ = os.WriteFile(filepath.Join(s.Root(), "data", "links.json"), []byte("{}"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(Change{Kind: ChangeCreated, Repo: "data", Path: "links.json"})
	}, "expected created change for data/links.json")
}

func TestWatchNewDirectory(t *testing.T) {
	s, rec := startWatch(t)
	dir := filepath.Join(s.Root(), "data", "feeds")
	_ = os.MkdirAll(dir, 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(dir, "feeds.json"), []byte("{}"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(Change{Kind: ChangeCreated, Repo: "data", Path: "feeds/feeds.json"})
	}, "file in new directory not reported")
}

func TestWatchReportsDelete(t *testing.T) {
	s, rec := startWatch(t)
	p := filepath.Join(s.Root(), "data", "gone.md")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	time.Sleep(400 * time.Millisecond)
	_ = os.Remove(p)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(Change{Kind: ChangeDeleted, Repo: "data", Path: "gone.md"})
	}, "expected deleted change")
}

func TestWatchIgnoresUntracked(t *testing.T) {
	s, rec := startWatch(t)
	_ = os.WriteFile(filepath.Join(s.Root(), "data", "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(s.Root(), "data", "seen.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(Change{Kind: ChangeCreated, Repo: "data", Path: "seen.md"})
	}, "tracked file not reported")
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, c := range rec.changes {
		if c.Path == "notes.txt" {
			t.Errorf("untracked file reported: %+v", c)
		}
	}
}
