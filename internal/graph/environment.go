// Package graph holds loaded asset files as a tree of library assets and
// scene instances, and resolves URLs and properties across them.
package graph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/h2non/filetype"
	"github.com/klauspost/compress/gzip"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/dsongraph/internal/logging"
)

// DynamicPolicy decides whether a property stays live when formulas are
// optimized. Properties that are not dynamic are baked to constants.
type DynamicPolicy interface {
	IsPropertyDynamic(p *Property) bool
}

// DynamicPolicyFunc adapts a function to DynamicPolicy.
type DynamicPolicyFunc func(p *Property) bool

func (f DynamicPolicyFunc) IsPropertyDynamic(p *Property) bool { return f(p) }

// Environment owns every node and file. Nodes refer to each other by NodeID
// handles into the arena.
type Environment struct {
	nodes []*Node
	files map[string]*File

	scene   NodeID
	library NodeID

	searchPaths  []billy.Filesystem
	nextInternal int
	policy       DynamicPolicy
	logger       *slog.Logger
}

// Option configures an Environment.
type Option func(*Environment)

func WithLogger(l *slog.Logger) Option {
	return func(e *Environment) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSearchPaths sets the content libraries searched for relative paths,
// in priority order.
func WithSearchPaths(paths ...billy.Filesystem) Option {
	return func(e *Environment) { e.searchPaths = append(e.searchPaths, paths...) }
}

func WithDynamicPolicy(p DynamicPolicy) Option {
	return func(e *Environment) { e.policy = p }
}

// NewEnvironment creates an empty environment with its scene and library
// roots.
func NewEnvironment(opts ...Option) *Environment {
	e := &Environment{
		nodes:  []*Node{nil},
		files:  make(map[string]*File),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scene = e.newRoot("scene", SourceScene)
	e.library = e.newRoot("library", SourceLibrary)
	return e
}

func (e *Environment) newRoot(id string, source Source) NodeID {
	n := &Node{
		env:      e,
		id:       NodeID(len(e.nodes)),
		source:   source,
		typeName: id,
		typ:      TypeOther,
		nodeID:   id,
		url:      "/",
		data:     map[string]any{"id": id, "type": id},
	}
	n.root = n.id
	e.nodes = append(e.nodes, n)
	return n.id
}

func (e *Environment) Scene() *Node        { return e.nodes[e.scene] }
func (e *Environment) Library() *Node      { return e.nodes[e.library] }
func (e *Environment) Logger() *slog.Logger { return e.logger }

// Node returns the node for a handle, or nil for the zero handle.
func (e *Environment) Node(id NodeID) *Node {
	if id == 0 || int(id) >= len(e.nodes) {
		return nil
	}
	return e.nodes[id]
}

// NumNodes counts arena slots, including detached nodes.
func (e *Environment) NumNodes() int { return len(e.nodes) - 1 }

// AddSearchPath puts a library ahead of the existing search paths.
func (e *Environment) AddSearchPath(fsys billy.Filesystem) {
	e.searchPaths = append([]billy.Filesystem{fsys}, e.searchPaths...)
}

// SetDynamicPolicy replaces the dynamic-property policy. A nil policy
// treats every property as dynamic.
func (e *Environment) SetDynamicPolicy(p DynamicPolicy) { e.policy = p }

// IsPropertyDynamic reports whether p stays live in optimized formulas.
func (e *Environment) IsPropertyDynamic(p *Property) bool {
	if e.policy == nil {
		return true
	}
	return e.policy.IsPropertyDynamic(p)
}

// File returns a loaded file by path, case-insensitively.
func (e *Environment) File(path string) *File {
	return e.files[strings.ToLower(normalizePath(path))]
}

// Files returns every loaded file.
func (e *Environment) Files() []*File {
	out := make([]*File, 0, len(e.files))
	for _, f := range e.files {
		out = append(out, f)
	}
	return out
}

// normalizePath adds the leading slash some URLs omit. Windows drive paths
// are left alone.
func normalizePath(p string) string {
	if strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return p
	}
	return "/" + p
}

// GetOrLoadFile returns the file at a library-relative path, loading it
// from the search paths on first use.
func (e *Environment) GetOrLoadFile(rel string) (*File, error) {
	if rel == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidURL)
	}
	rel = normalizePath(rel)
	key := strings.ToLower(rel)
	if f, ok := e.files[key]; ok {
		return f, nil
	}
	fsys, err := e.findFile(rel)
	if err != nil {
		return nil, err
	}
	return e.loadFile(key, rel, fsys, strings.TrimPrefix(rel, "/"))
}

// TryLoadFile is GetOrLoadFile that returns nil when no search path has the
// file. Other errors are still returned.
func (e *Environment) TryLoadFile(rel string) (*File, error) {
	f, err := e.GetOrLoadFile(rel)
	if errors.Is(err, ErrPathNotFound) {
		e.logger.Info("couldn't find resource", "path", rel)
		return nil, nil
	}
	return f, err
}

// LoadUserScene loads a scene file from an absolute path outside the
// search paths.
func (e *Environment) LoadUserScene(absPath string) (*File, error) {
	key := strings.ToLower(absPath)
	if f, ok := e.files[key]; ok {
		return f, nil
	}
	fsys := osfs.New(filepath.Dir(absPath))
	return e.loadFile(key, absPath, fsys, filepath.Base(absPath))
}

func (e *Environment) findFile(rel string) (billy.Filesystem, error) {
	name := strings.TrimPrefix(rel, "/")
	for _, fsys := range e.searchPaths {
		if fi, err := fsys.Stat(name); err == nil && !fi.IsDir() {
			return fsys, nil
		}
	}
	return nil, &PathNotFoundError{Path: rel}
}

// loadFile parses and registers a file. The file is registered before its
// nodes load so that URLs pointing back into it resolve; if loading fails
// every node it created is detached again.
func (e *Environment) loadFile(key, path string, fsys billy.Filesystem, name string) (*File, error) {
	e.logger.Info("loading file", "path", path)
	data, err := ReadAsset(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	f, err := newFile(e, path, data)
	if err != nil {
		return nil, err
	}
	e.files[key] = f
	if err := f.load(); err != nil {
		e.unload(key, f)
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return f, nil
}

// UnloadFile detaches every node the file created and forgets the file.
func (e *Environment) UnloadFile(path string) bool {
	key := strings.ToLower(normalizePath(path))
	f, ok := e.files[key]
	if !ok {
		return false
	}
	e.unload(key, f)
	return true
}

func (e *Environment) unload(key string, f *File) {
	gone := f.members.Clone()
	it := gone.Iterator()
	for it.HasNext() {
		n := e.Node(NodeID(it.Next()))
		if n == nil {
			continue
		}
		if p := n.Parent(); p != nil && !gone.Contains(uint32(p.id)) {
			p.children = removeAll(p.children, gone)
		}
		n.parent = 0
		n.children = nil
		n.file = nil
	}
	f.members.Clear()
	clear(f.nodes)
	f.order = nil
	delete(e.files, key)
}

func removeAll(ids []NodeID, gone *roaring.Bitmap) []NodeID {
	out := ids[:0]
	for _, id := range ids {
		if !gone.Contains(uint32(id)) {
			out = append(out, id)
		}
	}
	return out
}

// CreateGeneratedFile creates an empty scene file with an internal path to
// hold synthesized nodes.
func (e *Environment) CreateGeneratedFile() *File {
	path := fmt.Sprintf("/~internal/%d.dsf", e.nextInternal)
	e.nextInternal++
	f, _ := newFile(e, path, map[string]any{
		"asset_info": map[string]any{"type": "scene"},
	})
	e.files[strings.ToLower(path)] = f
	return f
}

var idSuffix = regexp.MustCompile(`^(.*)-(\d+)$`)

func splitID(id string) (string, int) {
	m := idSuffix.FindStringSubmatch(id)
	if m == nil {
		return id, 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return id, 0
	}
	return m[1], n
}

// UniqueID derives an id from base that no node in the environment uses:
// any numeric suffix is stripped and one past the greatest existing suffix
// is appended.
func (e *Environment) UniqueID(base string) string {
	base, _ = splitID(base)
	base += "-"
	greatest := 0
	visit := func(n *Node) {
		if !strings.HasPrefix(n.nodeID, base) {
			return
		}
		_, idx := splitID(n.nodeID)
		greatest = max(greatest, idx)
	}
	for n := range e.Scene().BreadthFirst() {
		visit(n)
	}
	for n := range e.Library().BreadthFirst() {
		visit(n)
	}
	return base + strconv.Itoa(greatest+1)
}

// OpenAsset opens an asset file, transparently decompressing it when it
// starts with the gzip magic.
func OpenAsset(fsys billy.Filesystem, name string) (io.ReadCloser, error) {
	f, err := fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &PathNotFoundError{Path: name}
		}
		return nil, err
	}
	br := bufio.NewReader(f)
	head, _ := br.Peek(262)
	if !filetype.Is(head, "gz") {
		return readCloser{br, f}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return readCloser{zr, multiCloser{zr, f}}, nil
}

// ReadAsset reads and parses a whole asset file.
func ReadAsset(fsys billy.Filesystem, name string) (map[string]any, error) {
	rc, err := OpenAsset(fsys, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	v, err := oj.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: top level is not an object", name)
	}
	return m, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
