package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher triggers incremental passes when files under the configured
// roots change. Events are debounced: a burst of writes produces one
// pass, not one per write. Correctness never depends on the watcher;
// a missed event is caught by the next scheduled or manual pass.
type Watcher struct {
	orch     *Orchestrator
	roots    []string
	debounce time.Duration
	logger   *zap.Logger

	fsw *fsnotify.Watcher
}

// NewWatcher builds a watcher over the orchestrator's roots.
func NewWatcher(orch *Orchestrator, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	roots := make([]string, 0, len(orch.cfg.Roots))
	for _, root := range orch.cfg.Roots {
		roots = append(roots, root.Path)
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	return &Watcher{
		orch:     orch,
		roots:    roots,
		debounce: debounce,
		logger:   logger.Named("watcher"),
		fsw:      fsw,
	}, nil
}

// Run watches until ctx is cancelled. Blocking; run it on its own
// goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			w.logger.Warn("watch setup failed", zap.String("root", root), zap.Error(err))
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			// New directories must be added to the watch set; fsnotify
			// does not recurse.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch add failed", zap.String("dir", event.Name), zap.Error(err))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Debug("change burst settled, triggering pass")
			if _, err := w.orch.Run(ctx, Options{Mode: ModeIncremental}); err != nil {
				w.logger.Warn("watcher-triggered pass failed", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (defaultWatchSkip[name] || name[0] == '.') {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

var defaultWatchSkip = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
}
