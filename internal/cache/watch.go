package cache

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5"
)

// DefaultDebounce is how long the library must be quiet before a rescan.
const DefaultDebounce = 500 * time.Millisecond

// Watcher rescans the library whenever files in it change. Bursts of
// events, such as a content package being unpacked, produce one scan.
type Watcher struct {
	cache    *Cache
	library  []billy.Filesystem
	debounce time.Duration
	logger   *slog.Logger
	onScan   func(Stats, error)

	fsw *fsnotify.Watcher
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnScan registers a callback run after every triggered scan.
func OnScan(fn func(Stats, error)) WatchOption {
	return func(w *Watcher) { w.onScan = fn }
}

// NewWatcher watches every directory below the library roots. Directories
// created later are added as they appear.
func NewWatcher(c *Cache, library []billy.Filesystem, opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		cache:    c,
		library:  library,
		debounce: DefaultDebounce,
		logger:   c.logger,
		fsw:      fsw,
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, fsys := range library {
		if err := w.addTree(fsys.Root()); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			w.logger.Warn("not watching", "path", p, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return err
		}
		w.logger.Debug("watching", "path", p)
		return nil
	})
}

// Run handles events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("library changed", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			w.logger.Warn("watch error", "err", err)

		case <-fire:
			fire = nil
			stats, err := w.cache.Scan(ctx, w.library, nil)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if w.onScan != nil {
				w.onScan(stats, err)
			}
		}
	}
}

// relevant filters events to indexed files and directories. New
// directories are watched as a side effect.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) && isDir(ev.Name) {
		if err := w.addTree(ev.Name); err != nil {
			w.logger.Warn("not watching", "path", ev.Name, "err", err)
		}
		return true
	}
	if ok, _ := filepath.Match(w.cache.pattern, filepath.Base(ev.Name)); ok {
		return true
	}
	// A removed or renamed directory takes its files with it.
	return ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
