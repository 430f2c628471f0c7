package storage

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change kinds reported by Watch.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// Change describes a file modified outside the API, e.g. by a git pull into
// the data directory.
type Change struct {
	Kind string
	Repo string
	Path string // slash-separated, relative to the repository
}

// ChangeCallback receives debounced changes.
type ChangeCallback func(Change)

const debounce = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the data root and reports changes to
// .json and .md files until ctx is cancelled. Bursts of events for the
// same path are coalesced and delivered once the path has been quiet for
// the debounce period.
//
// New directories created at runtime are added to the watch list.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]string)
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func(abs, kind string) {
		// created followed by writes stays created; anything followed by a delete is a delete
		if prev, ok := pending[abs]; !ok || kind == ChangeDeleted || prev == ChangeDeleted {
			pending[abs] = kind
		}
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	flush := func() {
		for abs, kind := range pending {
			delete(pending, abs)
			c, ok := changeFor(root, abs, kind)
			if !ok {
				continue
			}
			logger.Debug("watcher: change",
				slog.String("repo", c.Repo),
				slog.String("path", c.Path),
				slog.String("op", c.Kind))
			if cb != nil {
				cb(c)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
						continue
					}
					// Files may have landed before the directory was watched.
					_ = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
						if err == nil && !d.IsDir() && tracked(p) {
							schedule(p, ChangeCreated)
						}
						return nil
					})
					continue
				}
			}

			if !tracked(absPath) {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				schedule(absPath, ChangeCreated)
			case ev.Op&fsnotify.Write != 0:
				schedule(absPath, ChangeUpdated)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify reports Rename on the old path only; the new path arrives as Create.
				schedule(absPath, ChangeDeleted)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func tracked(p string) bool {
	return strings.HasSuffix(p, ".json") || strings.HasSuffix(p, ".md")
}

// changeFor splits abs into repository and path, skipping temp files and
// metadata directories.
func changeFor(root, abs, kind string) (Change, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return Change{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return Change{}, false
	}
	for _, p := range parts {
		if strings.HasPrefix(p, ".") {
			return Change{}, false
		}
	}
	return Change{Kind: kind, Repo: parts[0], Path: strings.Join(parts[1:], "/")}, true
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
