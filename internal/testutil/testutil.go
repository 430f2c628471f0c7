// Package testutil provides shared test helpers: temporary stores, local
// data directories, a fault-injecting provider and a fake GitHub API.
package testutil

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/storage"
)

// TestKV creates a temporary SQLite-backed store that is automatically cleaned up.
func TestKV(t *testing.T) *kvstore.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "lurkhub-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := kvstore.OpenSQLite(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestData creates a temporary data directory owned by owner with the given
// repositories already created.
func TestData(t *testing.T, owner string, repos ...string) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir(), owner)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range repos {
		if _, err := fs.CreateRepository(context.Background(), r, "", false); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

// Op names a Provider method for fault injection.
type Op string

const (
	OpRead   Op = "read"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Faulty wraps a Provider and fails selected calls.
type Faulty struct {
	storage.Provider

	mu     sync.Mutex
	faults []fault
}

type fault struct {
	op    Op
	path  string
	err   error
	count int // remaining failures, -1 for always
}

// NewFaulty wraps p.
func NewFaulty(p storage.Provider) *Faulty {
	return &Faulty{Provider: p}
}

// FailOnce makes the next op on a path containing pathPart fail with err.
func (f *Faulty) FailOnce(op Op, pathPart string, err error) {
	f.fail(op, pathPart, err, 1)
}

// FailAlways makes every op on a path containing pathPart fail with err.
func (f *Faulty) FailAlways(op Op, pathPart string, err error) {
	f.fail(op, pathPart, err, -1)
}

// Heal removes all injected faults.
func (f *Faulty) Heal() {
	f.mu.Lock()
	f.faults = nil
	f.mu.Unlock()
}

func (f *Faulty) fail(op Op, pathPart string, err error, n int) {
	f.mu.Lock()
	f.faults = append(f.faults, fault{op: op, path: pathPart, err: err, count: n})
	f.mu.Unlock()
}

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.faults {
		ft := &f.faults[i]
		if ft.op != op || ft.count == 0 || !strings.Contains(path, ft.path) {
			continue
		}
		if ft.count > 0 {
			ft.count--
		}
		return ft.err
	}
	return nil
}

func (f *Faulty) Read(ctx context.Context, repo, path string) (*storage.File, error) {
	if err := f.check(OpRead, path); err != nil {
		return nil, err
	}
	return f.Provider.Read(ctx, repo, path)
}

func (f *Faulty) Create(ctx context.Context, repo, path string, content []byte, msg string) (string, error) {
	if err := f.check(OpCreate, path); err != nil {
		return "", err
	}
	return f.Provider.Create(ctx, repo, path, content, msg)
}

func (f *Faulty) Update(ctx context.Context, repo, path string, content []byte, sha, msg string) (string, error) {
	if err := f.check(OpUpdate, path); err != nil {
		return "", err
	}
	return f.Provider.Update(ctx, repo, path, content, sha, msg)
}

func (f *Faulty) Delete(ctx context.Context, repo, path, sha, msg string) error {
	if err := f.check(OpDelete, path); err != nil {
		return err
	}
	return f.Provider.Delete(ctx, repo, path, sha, msg)
}
