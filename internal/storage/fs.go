package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/checksum"
	"github.com/lurkhub/lurkhub-app/internal/models"
)

// metaDir holds per-repository metadata that is never exposed as a file.
const metaDir = ".lurkhub"

// FS implements Provider and Repositories on the local file system.
// Each repository is a directory directly under root.
type FS struct {
	root  string // absolute path to the data directory
	owner string

	// mu serialises check-then-write sequences so sha checks hold.
	mu sync.Mutex
}

// NewFS creates a new FS provider rooted at the given directory for owner.
// The directory must already exist.
func NewFS(root, owner string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs, owner: owner}, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string { return f.root }

// Owner returns the login every repository belongs to.
func (f *FS) Owner() string { return f.owner }

// safePath resolves repo/rel against the root and rejects any result that
// escapes the repository directory.
func (f *FS) safePath(repo, rel string) (string, error) {
	if repo == "" || strings.ContainsAny(repo, `/\`) || repo == "." || repo == ".." {
		return "", fmt.Errorf("storage: invalid repository name %q", repo)
	}
	base := filepath.Join(f.root, repo)
	if rel == "" {
		return base, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(base, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes repository: %s", rel)
	}
	if first, _, _ := strings.Cut(filepath.ToSlash(cleaned), "/"); first == metaDir {
		return "", fmt.Errorf("storage: reserved path: %s", rel)
	}
	return abs, nil
}

func (f *FS) repoExists(repo string) (bool, error) {
	base, err := f.safePath(repo, "")
	if err != nil {
		return false, err
	}
	info, err := os.Stat(base)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat repo: %w", err)
	}
	return info.IsDir(), nil
}

// Read returns a file and its git blob sha.
func (f *FS) Read(_ context.Context, repo, path string) (*File, error) {
	abs, err := f.safePath(repo, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: read %s/%s: %w", repo, path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s/%s: %w", repo, path, err)
	}
	return &File{Repo: repo, Path: path, Content: data, SHA: checksum.BlobSHA(data)}, nil
}

// Create writes a new file. The repository must exist.
func (f *FS) Create(_ context.Context, repo, path string, content []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	abs, err := f.writablePath(repo, path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err == nil {
		return "", fmt.Errorf("storage: create %s/%s: %w", repo, path, apperr.ErrConflict)
	}
	if err := writeAtomic(abs, content); err != nil {
		return "", err
	}
	return checksum.BlobSHA(content), nil
}

// Update replaces a file whose current sha equals sha.
func (f *FS) Update(_ context.Context, repo, path string, content []byte, sha, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	abs, err := f.writablePath(repo, path)
	if err != nil {
		return "", err
	}
	if err := checkSHA(abs, repo, path, sha); err != nil {
		return "", err
	}
	if err := writeAtomic(abs, content); err != nil {
		return "", err
	}
	return checksum.BlobSHA(content), nil
}

// Delete removes a file whose current sha equals sha, then prunes empty
// parent directories up to the repository root.
func (f *FS) Delete(_ context.Context, repo, path, sha, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	abs, err := f.writablePath(repo, path)
	if err != nil {
		return err
	}
	if err := checkSHA(abs, repo, path, sha); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", repo, path, err)
	}
	base, _ := f.safePath(repo, "")
	for dir := filepath.Dir(abs); dir != base; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (f *FS) writablePath(repo, path string) (string, error) {
	ok, err := f.repoExists(repo)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("storage: repository %s: %w", repo, apperr.ErrNotFound)
	}
	if path == "" {
		return "", fmt.Errorf("storage: empty path")
	}
	return f.safePath(repo, path)
}

func checkSHA(abs, repo, path, sha string) error {
	current, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: %s/%s: %w", repo, path, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage: read %s/%s: %w", repo, path, err)
	}
	if checksum.BlobSHA(current) != sha {
		return fmt.Errorf("storage: %s/%s sha mismatch: %w", repo, path, apperr.ErrConflict)
	}
	return nil
}

func writeAtomic(abs string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	return nil
}

type repoMeta struct {
	Description string `json:"description"`
	Private     bool   `json:"private"`
}

// Repository reports a local repository. The local owner always has push access.
func (f *FS) Repository(_ context.Context, owner, name string) (*models.Repository, error) {
	if owner != f.owner {
		return nil, fmt.Errorf("storage: repository %s/%s: %w", owner, name, apperr.ErrNotFound)
	}
	ok, err := f.repoExists(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("storage: repository %s/%s: %w", owner, name, apperr.ErrNotFound)
	}
	var meta repoMeta
	if raw, err := os.ReadFile(filepath.Join(f.root, name, metaDir, "repository.json")); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	return &models.Repository{
		Owner:         f.owner,
		Name:          name,
		Description:   meta.Description,
		Private:       meta.Private,
		DefaultBranch: "main",
		Permissions:   models.Permissions{Admin: true, Push: true, Pull: true},
	}, nil
}

// CreateRepository creates an empty repository directory.
func (f *FS) CreateRepository(ctx context.Context, name, description string, private bool) (*models.Repository, error) {
	f.mu.Lock()
	ok, err := f.repoExists(name)
	if err == nil && ok {
		err = fmt.Errorf("storage: repository %s: %w", name, apperr.ErrAlreadyExists)
	}
	if err == nil {
		err = f.initRepo(name, repoMeta{Description: description, Private: private})
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Repository(ctx, f.owner, name)
}

func (f *FS) initRepo(name string, meta repoMeta) error {
	dir := filepath.Join(f.root, name, metaDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create repository: %w", err)
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "repository.json"), raw)
}
