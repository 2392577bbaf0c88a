package config

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DenylistWatcher tails a plain-text denylist file (one package name per
// line, '#' comments allowed) and keeps an in-memory snapshot current as
// the file changes on disk, without a process restart. It is additive to
// Settings.PackageDenylist: callers merge both sources.
type DenylistWatcher struct {
	mu      sync.RWMutex
	entries []string
	path    string
}

// NewDenylistWatcher performs an initial read of path and returns a
// watcher primed with its current contents. path may not exist yet; in
// that case the watcher starts empty and picks up the file once created.
func NewDenylistWatcher(path string) *DenylistWatcher {
	w := &DenylistWatcher{path: path}
	w.reload()
	return w
}

// Entries returns the current lowercase, trimmed package names.
func (w *DenylistWatcher) Entries() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.entries))
	copy(out, w.entries)
	return out
}

func (w *DenylistWatcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return
	}
	var entries []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, strings.ToLower(line))
	}
	w.mu.Lock()
	w.entries = entries
	w.mu.Unlock()
}

// Watch blocks, reloading the snapshot whenever the file is written,
// created, or renamed into place, until ctx is canceled. Watch errors are
// logged and do not stop the loop; a failure to start the watcher at all
// is returned so the caller can decide whether that's fatal.
func (w *DenylistWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the parent directory so a file that does not exist yet, or is
	// replaced by a rename, is still seen.
	target := filepath.Clean(w.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		slog.Warn("denylist file watch unavailable, using static snapshot", "path", w.path, "error", err)
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
				slog.Info("denylist file reloaded", "path", w.path, "entries", len(w.Entries()))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("denylist watcher error", "error", err)
		}
	}
}
