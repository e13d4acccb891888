package workspace

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the workspace tree and publishes external file changes on
// the bus. Changes made by an apply are published by the file service before
// the watcher sees them; subscribers treat the apply notification as
// authoritative and the debounce window below keeps the duplicate external
// event from racing it.
type Watcher struct {
	root    *Root
	bus     *Bus
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	debounce time.Duration
	ignore   []string
}

// NewWatcher builds a recursive watcher rooted at root.
func NewWatcher(root *Root, bus *Bus, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		root:     root,
		bus:      bus,
		watcher:  fsw,
		logger:   logger.With("component", "watcher"),
		debounce: 150 * time.Millisecond,
		ignore:   []string{".git", "node_modules", "target", ".typemill", ".codebuddy"},
	}
	if err := w.addRecursive(root.Path()); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, name := range w.ignore {
		if base == name {
			return true
		}
	}
	return strings.HasSuffix(base, ".tmp")
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run pumps fsnotify events onto the bus until ctx is cancelled. Events are
// coalesced per debounce window so editor save bursts publish once.
func (w *Watcher) Run(ctx context.Context) {
	pending := make(map[string]FileChange)
	var timer *time.Timer
	var fire <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]FileChange, 0, len(pending))
		for _, c := range pending {
			batch = append(batch, c)
		}
		pending = make(map[string]FileChange)
		w.bus.Publish(batch)
	}

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(ev.Name)
					continue
				}
			}
			rel, err := w.root.Rel(ev.Name)
			if err != nil {
				continue
			}
			pending[rel] = FileChange{
				Path:    rel,
				Origin:  OriginExternal,
				Deleted: ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename),
				Created: ev.Op.Has(fsnotify.Create),
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			flush()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}
