// Package cache keeps a persistent index of every modifier in a content
// library, so the modifiers that can apply to a figure are known without
// loading the library.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/agentic-research/dsongraph/api"
	"github.com/agentic-research/dsongraph/internal/logging"
)

// DefaultPattern selects the files a scan indexes.
const DefaultPattern = "*.dsf"

// Cache is the modifier index and the file it persists to.
type Cache struct {
	path    string
	pattern string
	logger  *slog.Logger

	mu   sync.RWMutex
	data api.CacheFile
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. A nil logger discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPattern sets the file name glob a scan indexes.
func WithPattern(p string) Option {
	return func(c *Cache) {
		if p != "" {
			c.pattern = p
		}
	}
}

// Open loads the cache at path. A missing file gives an empty cache. An
// empty path gives a cache that is never written.
func Open(path string, opts ...Option) (*Cache, error) {
	c := &Cache{
		path:    path,
		pattern: DefaultPattern,
		logger:  logging.Discard(),
		data:    api.CacheFile{InfoPerFile: make(map[string]*api.FileInfo)},
	}
	for _, opt := range opts {
		opt(c)
	}
	if path == "" {
		return c, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("no cache file yet", "path", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		return nil, fmt.Errorf("parse cache %s: %w", path, err)
	}
	if c.data.InfoPerFile == nil {
		c.data.InfoPerFile = make(map[string]*api.FileInfo)
	}
	c.logger.Debug("loaded cache", "path", path, "files", len(c.data.InfoPerFile))
	return c, nil
}

// Path is the file the cache saves to.
func (c *Cache) Path() string { return c.path }

// Save rewrites the cache file. The file is replaced atomically.
func (c *Cache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.save()
}

func (c *Cache) save() error {
	if c.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(&c.data, "", "    ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return err
	}
	c.logger.Info("saved cache", "path", c.path, "files", len(c.data.InfoPerFile))
	return nil
}

// InfoPerFile returns a snapshot of the index keyed by relative path. The
// entries are shared with the cache and must not be modified.
func (c *Cache) InfoPerFile() map[string]*api.FileInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*api.FileInfo, len(c.data.InfoPerFile))
	for k, v := range c.data.InfoPerFile {
		out[k] = v
	}
	return out
}

// ModifiersForPath returns the sorted relative paths of files holding a
// modifier whose parent is url.
func (c *Cache) ModifiersForPath(url string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for rel, fi := range c.data.InfoPerFile {
		for _, m := range fi.Modifiers {
			if m.Parent == url {
				out = append(out, rel)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

// NumModifiers counts the indexed modifiers.
func (c *Cache) NumModifiers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, fi := range c.data.InfoPerFile {
		n += len(fi.Modifiers)
	}
	return n
}
