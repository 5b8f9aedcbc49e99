package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codeindex-mcp/internal/scanner"
)

// DefaultDebounce is how long the watcher waits for changes to settle
const DefaultDebounce = 2 * time.Second

// FileIndexer re-indexes or removes single files
type FileIndexer interface {
	ProcessFile(ctx context.Context, root, rel string) (int, error)
	RemoveFile(ctx context.Context, rel string) error
}

// Watcher keeps an index current by re-indexing files that change under a
// root after a full run.
type Watcher struct {
	root     string
	filter   *scanner.Filter
	files    FileIndexer
	debounce time.Duration
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// StartWatcher watches every non-skipped directory under root. The watcher
// runs until Stop is called or ctx is cancelled.
func StartWatcher(ctx context.Context, root string, files FileIndexer, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		filter:   scanner.NewFilter(root),
		files:    files,
		debounce: debounce,
		logger:   logger.With("component", "watcher", "root", root),
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)

	w.logger.Info("file watcher started")
	return w, nil
}

// Stop ends the watch loop and waits for it to exit
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// addTree watches dir and its descendants
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(p); ok && w.filter.SkipDir(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("file watcher stopped")
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, ok := w.rel(ev.Name)
			if !ok {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if !w.filter.SkipDir(rel) {
						if err := w.addTree(ev.Name); err != nil {
							w.logger.Debug("could not watch new directory", "path", rel, "error", err)
						}
					}
					continue
				}
			}
			if !w.filter.IncludeFile(rel) {
				continue
			}

			w.logger.Debug("file change detected", "event", ev.Op.String(), "path", rel)
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.flush(ctx, pending)
			pending = make(map[string]struct{})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

// flush re-indexes every pending file. A file that no longer exists only
// has its points removed.
func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	changed := make([]string, 0, len(pending))
	for rel := range pending {
		changed = append(changed, rel)
	}
	slices.Sort(changed)
	w.logger.Info("re-indexing changed files", "count", len(changed))

	for _, rel := range changed {
		if err := w.files.RemoveFile(ctx, rel); err != nil {
			w.logger.Error("failed to remove stale points", "path", rel, "error", err)
			continue
		}

		_, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel)))
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Info("file removed from index", "path", rel)
			continue
		}

		n, err := w.files.ProcessFile(ctx, w.root, rel)
		if err != nil {
			w.logger.Error("failed to re-index file", "path", rel, "error", err)
			continue
		}
		w.logger.Debug("file re-indexed", "path", rel, "blocks", n)
	}
}
