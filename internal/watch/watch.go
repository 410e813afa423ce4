// Package watch monitors a directory for new .mkv files and hands each one
// to a callback exactly once, so a long-running mode can pick up files as
// they land instead of requiring a fresh invocation per batch. Grounded in
// original_source/watcher.py's DirectoryWatcher: the Python original
// prefers the watchdog library when installed and falls back to polling
// otherwise. This package mirrors that same shape with fsnotify standing in
// for watchdog — native kernel file-system events when the platform
// supports them, a polling loop when fsnotify.NewWatcher fails to
// initialize (e.g. inotify watch limits exhausted, or an unsupported
// platform).
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/voldardard/mkv2cast/internal/integrity"
	"github.com/voldardard/mkv2cast/internal/logger"
	"github.com/voldardard/mkv2cast/internal/scan"
)

// Handler is called once per newly discovered file. It runs in its own
// goroutine so a slow conversion never delays the watcher.
type Handler func(ctx context.Context, path string)

// Watcher monitors Root for new .mkv files matching Options and dispatches
// each one exactly once to a Handler.
type Watcher struct {
	Root       string
	Options    scan.Options
	Interval   time.Duration
	StableWait time.Duration

	mu         sync.Mutex
	known      map[string]struct{}
	processing map[string]struct{}
}

// New builds a Watcher. A zero Interval defaults to 5 seconds, matching
// DirectoryWatcher's default polling interval (used only in the polling
// fallback path). stableWait is the quiet period dispatch requires before
// handing a file to handle (0 disables the wait).
func New(root string, opt scan.Options, interval, stableWait time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		Root:       root,
		Options:    opt,
		Interval:   interval,
		StableWait: stableWait,
		known:      make(map[string]struct{}),
		processing: make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled, dispatching each newly discovered
// input file to handle at most once. It tries fsnotify first and falls
// back to polling if the watcher can't be created or seeded, mirroring
// DirectoryWatcher.start's WATCHDOG_AVAILABLE branch.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		return w.runPolling(ctx, handle)
	}
	defer fsw.Close()

	if err := w.addWatches(fsw); err != nil {
		logger.Warn("fsnotify setup failed, falling back to polling", "error", err)
		return w.runPolling(ctx, handle)
	}

	logger.Info("watching for new files", "root", w.Root, "recursive", w.Options.Recursive, "mode", "fsnotify")
	return w.runNotify(ctx, fsw, handle)
}

func (w *Watcher) addWatches(fsw *fsnotify.Watcher) error {
	if !w.Options.Recursive {
		return fsw.Add(w.Root)
	}
	return filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.Root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) runNotify(ctx context.Context, fsw *fsnotify.Watcher, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if w.Options.Recursive && !strings.HasPrefix(filepath.Base(ev.Name), ".") {
					_ = fsw.Add(ev.Name)
				}
				continue
			}
			w.consider(ctx, ev.Name, handle)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "root", w.Root, "error", err)
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context, handle Handler) error {
	if err := w.seed(); err != nil {
		return err
	}

	logger.Info("watching for new files", "root", w.Root, "recursive", w.Options.Recursive, "mode", "polling", "interval", w.Interval)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.pollOnce(ctx, handle)
		}
	}
}

func (w *Watcher) seed() error {
	res, err := scan.Walk(w.Root, w.Options)
	if err != nil {
		return err
	}
	w.mu.Lock()
	for _, t := range res.Targets {
		w.known[t] = struct{}{}
	}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) pollOnce(ctx context.Context, handle Handler) {
	res, err := scan.Walk(w.Root, w.Options)
	if err != nil {
		logger.Warn("watch poll failed", "root", w.Root, "error", err)
		return
	}

	w.mu.Lock()
	var fresh []string
	for _, t := range res.Targets {
		if _, seen := w.known[t]; seen {
			continue
		}
		w.known[t] = struct{}{}
		fresh = append(fresh, t)
	}
	w.mu.Unlock()

	for _, path := range fresh {
		w.dispatch(ctx, path, handle)
	}
}

// consider decides whether path (named by an fsnotify create/rename event)
// is a file this watcher should act on, mirroring MKVFileHandler.handle_file's
// filtering before it hands off to the convert callback.
func (w *Watcher) consider(ctx context.Context, path string, handle Handler) {
	res, err := scan.Single(path, w.Options)
	if err != nil || len(res.Targets) == 0 {
		return
	}
	w.dispatch(ctx, path, handle)
}

// dispatch hands path to handle exactly once concurrently, guarding against
// fsnotify's occasional duplicate Create+Rename pair for a single file move,
// the way MKVFileHandler.handle_file's processing set does. Before calling
// handle it waits for the file to stop growing (integrity.IsStable),
// mirroring MKVFileHandler.handle_file's own stability wait ahead of its
// convert callback — a file still being copied into the watched directory
// must not be queued mid-write.
func (w *Watcher) dispatch(ctx context.Context, path string, handle Handler) {
	w.mu.Lock()
	if _, busy := w.processing[path]; busy {
		w.mu.Unlock()
		return
	}
	w.processing[path] = struct{}{}
	w.mu.Unlock()

	logger.Info("new file detected", "file", path)
	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.processing, path)
			w.mu.Unlock()
		}()
		if !integrity.IsStable(path, w.StableWait) {
			logger.Warn("file never stabilized, skipping", "file", path)
			return
		}
		handle(ctx, path)
	}()
}
