// Package watch triggers rebuilds when source files change.
//
// Events are debounced: a burst of changes (an editor writing then renaming
// a temp file, a git checkout) results in one callback carrying every
// changed path.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 300 * time.Millisecond

// defaultIgnores are matched against paths relative to the watched root.
var defaultIgnores = []string{
	"**/.git",
	"**/.git/**",
	"**/node_modules",
	"**/node_modules/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watcher already running")

// Config holds the parameters for a Watcher.
type Config struct {
	// Roots are watched recursively.
	Roots []string
	// Ignore are extra doublestar patterns, relative to each root.
	Ignore []string
	// Exclude are directories never watched, typically the build output.
	Exclude  []string
	Debounce time.Duration
	// OnChange receives the deduplicated, sorted absolute paths that changed.
	OnChange func(ctx context.Context, changed []string) error
}

// Watcher monitors directory trees and fires a debounced callback.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	roots    []string
	exclude  []string
	ignores  []string
	debounce time.Duration
	started  atomic.Bool
}

// New validates the configuration and registers every directory below the
// roots with fsnotify.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, errors.New("watch: at least one root is required")
	}

	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pat)
		}
	}

	w := &Watcher{
		cfg:      cfg,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: cfg.Debounce,
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}

	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve root %q: %w", root, err)
		}
		if !slices.Contains(w.roots, abs) {
			w.roots = append(w.roots, abs)
		}
	}
	for _, dir := range cfg.Exclude {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve exclude %q: %w", dir, err)
		}
		w.exclude = append(w.exclude, abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	w.fsw = fsw

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	log.Debug().Strs("roots", w.roots).Int("directories", len(fsw.WatchList())).Msg("Watching for changes")

	return w, nil
}

// Run blocks until ctx is cancelled. A callback error is logged and the
// watcher keeps running; only fsnotify failures end Run early.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close fsnotify watcher")
		}
	}()

	var (
		mu      sync.Mutex
		pending = map[string]struct{}{}
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		// skip while a build is in flight and try again after another window
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}

		if err := w.cfg.OnChange(ctx, changed); err != nil {
			log.Error().Err(err).Msg("Rebuild failed, waiting for further changes")
		}
	}

	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed")
			}
			if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
				continue
			}
			if w.ignored(evt.Name) {
				continue
			}

			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.addTree(evt.Name); err != nil {
						log.Warn().Err(err).Str("path", evt.Name).Msg("Failed to watch new directory")
					}
				}
			}

			log.Trace().Str("path", evt.Name).Str("op", evt.Op.String()).Msg("File changed")

			mu.Lock()
			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn().Err(err).Msg("Watch events dropped")
				continue
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}

func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			log.Debug().Err(walkErr).Str("path", path).Msg("Skipping unreadable path")
			return nil //nolint:nilerr
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %s: %w", dir, err)
	}
	return nil
}

// ignored reports whether an absolute path is excluded or matches an ignore
// pattern relative to the root containing it.
func (w *Watcher) ignored(path string) bool {
	for _, ex := range w.exclude {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}

	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		slashed := filepath.ToSlash(rel)
		for _, pat := range w.ignores {
			if doublestar.MatchUnvalidated(pat, slashed) {
				return true
			}
		}
	}
	return false
}
