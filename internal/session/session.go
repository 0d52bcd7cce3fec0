// Package session ties a configuration to the cache, the graph and the
// resolver, for the commands and the MCP server.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/agentic-research/dsongraph/internal/cache"
	"github.com/agentic-research/dsongraph/internal/config"
	"github.com/agentic-research/dsongraph/internal/graph"
	"github.com/agentic-research/dsongraph/internal/logging"
	"github.com/agentic-research/dsongraph/internal/resolver"
)

// ErrNoFigures is returned when a scene instances no figure or node.
var ErrNoFigures = errors.New("scene has no figures")

// Session holds the modifier index for a configured library.
type Session struct {
	cfg     *config.Config
	logger  *slog.Logger
	library []billy.Filesystem

	mu    sync.Mutex // serializes scans
	cache *cache.Cache
}

// Open loads the index named by cfg. It does not scan. A nil logger
// discards.
func Open(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	c, err := cache.Open(cfg.CacheFile, cache.WithLogger(logger), cache.WithPattern(cfg.Library.Pattern))
	if err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, logger: logger, library: cfg.SearchPaths(), cache: c}, nil
}

func (s *Session) Config() *config.Config { return s.cfg }
func (s *Session) Cache() *cache.Cache    { return s.cache }
func (s *Session) Logger() *slog.Logger   { return s.logger }

// Scan brings the index up to date with the library.
func (s *Session) Scan(ctx context.Context, progress cache.ProgressFunc) (cache.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.library) == 0 {
		return cache.Stats{}, errors.New("no search paths configured")
	}
	return s.cache.Scan(ctx, s.library, progress)
}

// Watch rescans on library changes until ctx is done.
func (s *Session) Watch(ctx context.Context, opts ...cache.WatchOption) error {
	w, err := cache.NewWatcher(s.cache, s.library, opts...)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// NewEnvironment returns an empty graph over the library.
func (s *Session) NewEnvironment() *graph.Environment {
	return graph.NewEnvironment(graph.WithLogger(s.logger), graph.WithSearchPaths(s.library...))
}

// LoadScene loads the scene at path into env. An absolute path that exists
// on disk is read directly; anything else is looked up in the library.
func LoadScene(env *graph.Environment, path string) (*graph.File, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return env.LoadUserScene(path)
		}
	}
	return env.GetOrLoadFile(path)
}

// Figures returns the scene's figures and plain nodes such as props, depth
// first. Figures conformed to another are included.
func Figures(env *graph.Environment) []*graph.Node {
	var out []*graph.Node
	for n := range env.Scene().DepthFirst() {
		if n.Source() != graph.SourceNode {
			continue
		}
		if t := n.Type(); t == graph.TypeFigure || t == graph.TypeNode {
			out = append(out, n)
		}
	}
	return out
}

// Analysis is the classification of one scene's modifiers.
type Analysis struct {
	Env       *graph.Environment
	Scene     *graph.File
	Figures   []*graph.Node
	Resolver  *resolver.Resolver
	Results   *resolver.Results
	Favorites []string
}

// Classify loads the scene at path and classifies the modifiers that could
// apply to its figures and nodes under the configured modifier policy.
func (s *Session) Classify(path string) (*Analysis, error) {
	env := s.NewEnvironment()
	scene, err := LoadScene(env, path)
	if err != nil {
		return nil, fmt.Errorf("load scene: %w", err)
	}
	figures := Figures(env)
	if len(figures) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoFigures)
	}

	r, err := resolver.New(figures, s.cache.InfoPerFile(), s.logger)
	if err != nil {
		return nil, err
	}
	res := r.ModifierInfo(s.cfg.AssetConfig())
	s.logger.Info("classified modifiers", "scene", path, "figures", len(figures),
		"used", len(res.Used), "unused", len(res.Unused),
		"unavailable", len(res.Unavailable), "available_for_dynamic", len(res.AvailableForDynamic))
	return &Analysis{
		Env:       env,
		Scene:     scene,
		Figures:   figures,
		Resolver:  r,
		Results:   res,
		Favorites: r.FavoriteModifiers(env),
	}, nil
}

// Evaluate loads and prepares the scene at path, then evaluates the
// property at url, resolved from the scene root, such as
// "Figure:#Smile?value".
func (s *Session) Evaluate(path, url string, opts graph.EvalOptions) (float64, error) {
	env := s.NewEnvironment()
	if _, err := LoadScene(env, path); err != nil {
		return 0, fmt.Errorf("load scene: %w", err)
	}
	if err := graph.PrepareScene(env, false); err != nil {
		return 0, err
	}
	p, err := env.Scene().ResolveProperty(url)
	if err != nil {
		return 0, err
	}
	return p.Evaluate(opts)
}
