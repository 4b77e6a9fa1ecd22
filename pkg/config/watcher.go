package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for a burst of events to
// settle before calling back.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc is called after watched sources change. changed is the last
// path that triggered the reload.
type ChangeFunc func(ctx context.Context, changed string) error

// Watcher reports changes to parameter files, scripts and policy files.
// Files are watched through their parent directory so editors that
// replace a file on save are still seen.
type Watcher struct {
	logger   zerolog.Logger
	debounce time.Duration

	files map[string]bool // exact files of interest
	dirs  map[string]bool // directories whose matching files are of interest
	exts  map[string]bool
}

// NewWatcher creates a watcher for the given files and directories.
// Within directories, files with one of exts are of interest.
func NewWatcher(logger zerolog.Logger, paths []string, exts ...string) (*Watcher, error) {
	w := &Watcher{
		logger:   logger.With().Str("component", "watcher").Logger(),
		debounce: DefaultDebounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		exts:     make(map[string]bool),
	}
	for _, ext := range exts {
		w.exts[strings.ToLower(ext)] = true
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.IsDir() {
			w.dirs[abs] = true
		} else {
			w.files[abs] = true
		}
	}

	return w, nil
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run blocks until ctx is done, calling onChange once per settled burst of
// relevant events. Callback errors are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	for file := range w.files {
		watched[filepath.Dir(file)] = true
	}
	for dir := range w.dirs {
		watched[dir] = true
	}
	for dir := range watched {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.logger.Info().
		Int("files", len(w.files)).
		Int("directories", len(w.dirs)).
		Msg("Watching for changes")

	fire := make(chan string, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !w.relevant(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Source changed")

			name := event.Name
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- name:
				default:
				}
			})

		case name := <-fire:
			if err := onChange(ctx, name); err != nil {
				w.logger.Error().Err(err).Str("file", name).Msg("Reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.files[abs] {
		return true
	}
	return w.dirs[filepath.Dir(abs)] && w.exts[strings.ToLower(filepath.Ext(abs))]
}
