// Package watch turns filesystem events and timer ticks into sync triggers.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultIgnore are skipped unless the config overrides them.
var DefaultIgnore = []string{"**/node_modules/**", "**/.git/**", "**/__pycache__/**", "**/*.swp", "**/*~"}

// Options configures a Watcher.
type Options struct {
	// Root is the directory globs are relative to.
	Root string
	// Files are contract files (absolute or relative to Root).
	Files []string
	// Globs are extra doublestar patterns relative to Root.
	Globs []string
	// Ignore are doublestar patterns relative to Root.
	Ignore []string
	Logger *slog.Logger
}

// Watcher reports create/write/rename events on the contract files and on
// paths matching Globs to OnChange.
type Watcher struct {
	opts     Options
	root     string
	files    map[string]struct{}
	onChange func(path string)
	fsw      *fsnotify.Watcher
	log      *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher. onChange is called from the watcher goroutine for
// every relevant event; callers usually pass a Debouncer's Trigger.
func New(opts Options, onChange func(path string)) (*Watcher, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	for _, g := range append(append([]string{}, opts.Globs...), opts.Ignore...) {
		if !doublestar.ValidatePattern(filepath.ToSlash(g)) {
			return nil, errors.New("invalid glob pattern: " + g)
		}
	}
	files := make(map[string]struct{}, len(opts.Files))
	for _, f := range opts.Files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(root, f)
		}
		files[filepath.Clean(f)] = struct{}{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		opts:     opts,
		root:     root,
		files:    files,
		onChange: onChange,
		fsw:      fsw,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

// Start registers the watched directories and begins delivering events.
// Directories of contract files are watched rather than the files themselves
// so that editors replacing files by rename are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	dirs := map[string]struct{}{}
	for f := range w.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	if len(w.opts.Globs) > 0 {
		_ = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if p != w.root && w.ignored(p) {
				return filepath.SkipDir
			}
			dirs[p] = struct{}{}
			return nil
		})
	}
	for d := range dirs {
		if err := w.fsw.Add(d); err != nil {
			return err
		}
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the event goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return
	}
	p := filepath.Clean(ev.Name)
	if ev.Has(fsnotify.Create) && len(w.opts.Globs) > 0 && !w.ignored(p) {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			_ = w.fsw.Add(p)
			return
		}
	}
	if !w.Relevant(p) {
		return
	}
	w.log.Debug("contract source changed", slog.String("path", p), slog.String("op", ev.Op.String()))
	w.onChange(p)
}

// Relevant reports whether an event on path p should trigger a sync.
func (w *Watcher) Relevant(p string) bool {
	if _, ok := w.files[p]; ok {
		return true
	}
	if w.ignored(p) {
		return false
	}
	rel, ok := w.rel(p)
	if !ok {
		return false
	}
	for _, g := range w.opts.Globs {
		if m, _ := doublestar.Match(filepath.ToSlash(g), rel); m {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(p string) bool {
	rel, ok := w.rel(p)
	if !ok {
		return false
	}
	for _, g := range w.opts.Ignore {
		if m, _ := doublestar.Match(filepath.ToSlash(g), rel); m {
			return true
		}
		// a directory pattern like "**/node_modules/**" should also skip the directory itself
		if m, _ := doublestar.Match(filepath.ToSlash(g), rel+"/x"); m {
			return true
		}
	}
	return false
}

func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
