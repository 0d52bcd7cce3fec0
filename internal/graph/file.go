package graph

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/dsongraph/internal/dsonurl"
)

// File is a loaded asset file. It is not the parent of its nodes; it only
// indexes them by id for fragment lookups.
type File struct {
	env       *Environment
	Path      string
	AssetInfo map[string]any
	AssetType string

	data  map[string]any
	nodes map[string]NodeID
	order []string

	// members holds every node the file created, including geometries
	// nested under other nodes, so the file can be unloaded.
	members *roaring.Bitmap
}

// Section loading order matters: geometry must exist before nodes that use
// it, and materials look up their geometry.
var librarySections = []struct {
	key    string
	source Source
}{
	{"uv_set_library", SourceGeometry},
	{"geometry_library", SourceGeometry},
	{"node_library", SourceNode},
	{"modifier_library", SourceModifier},
	{"material_library", SourceMaterial},
}

var sceneSections = []struct {
	key    string
	source Source
}{
	{"nodes", SourceNode},
	{"modifiers", SourceModifier},
	{"materials", SourceMaterial},
}

func newFile(env *Environment, path string, data map[string]any) (*File, error) {
	info, ok := data["asset_info"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: missing asset_info", path)
	}
	f := &File{
		env:       env,
		Path:      path,
		AssetInfo: info,
		data:      data,
		nodes:     make(map[string]NodeID),
		members:   roaring.New(),
	}
	f.AssetType, _ = info["type"].(string)
	return f, nil
}

func (f *File) load() error {
	for _, sec := range librarySections {
		if err := f.addNodes(f.data[sec.key], sec.source, f.env.library, 0); err != nil {
			return err
		}
	}
	scene, _ := f.data["scene"].(map[string]any)
	for _, sec := range sceneSections {
		if err := f.addNodes(scene[sec.key], sec.source, f.env.scene, 0); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) addNodes(raw any, source Source, root, parent NodeID) error {
	list, _ := raw.([]any)
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %s entry %d is not an object", f.Path, source, i)
		}
		if _, err := f.addNode(m, source, root, parent); err != nil {
			return err
		}
	}
	return nil
}

// addNode creates a node from raw data and registers it under its id. Scene
// modifiers without a parent are the default instances that modifier files
// carry; they are ignored and nil is returned.
func (f *File) addNode(raw map[string]any, source Source, root, parent NodeID) (*Node, error) {
	return f.addNodeWithAsset(raw, source, root, parent, 0)
}

func (f *File) addNodeWithAsset(raw map[string]any, source Source, root, parent, asset NodeID) (*Node, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("%s: %s entry has no id", f.Path, source)
	}
	if source == SourceModifier && root == f.env.scene && parent == 0 && raw["parent"] == nil {
		return nil, nil
	}
	if _, dup := f.nodes[id]; dup {
		return nil, fmt.Errorf("%s: %w %q", f.Path, ErrDuplicateID, id)
	}
	url := dsonurl.Escape(f.Path) + "#" + dsonurl.Escape(id)
	n, err := f.env.newNode(nodeSpec{
		source: source,
		data:   raw,
		url:    url,
		file:   f,
		parent: parent,
		root:   root,
		asset:  asset,
	})
	if err != nil || n == nil {
		return nil, err
	}
	f.register(n)
	return n, nil
}

func (f *File) register(n *Node) {
	if _, ok := f.nodes[n.nodeID]; !ok {
		f.order = append(f.order, n.nodeID)
	}
	f.nodes[n.nodeID] = n.id
	f.members.Add(uint32(n.id))
}

func (f *File) remove(n *Node) {
	if f.nodes[n.nodeID] == n.id {
		delete(f.nodes, n.nodeID)
		f.order = slices.DeleteFunc(f.order, func(s string) bool { return s == n.nodeID })
	}
	f.members.Remove(uint32(n.id))
}

// Node returns the node registered under id in this file.
func (f *File) Node(id string) *Node {
	if nid, ok := f.nodes[id]; ok {
		return f.env.Node(nid)
	}
	return nil
}

// Nodes returns the file's registered nodes in load order.
func (f *File) Nodes() []*Node {
	out := make([]*Node, 0, len(f.order))
	for _, id := range f.order {
		if n := f.Node(id); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// NumMembers counts every node the file created.
func (f *File) NumMembers() int { return int(f.members.GetCardinality()) }

// FindNodeID returns the node the file registered under id, or else
// searches each registered node's subtree breadth first.
func (f *File) FindNodeID(id string) *Node {
	if n := f.Node(id); n != nil {
		return n
	}
	for _, n := range f.Nodes() {
		if found := n.FindNodeID(id); found != nil {
			return found
		}
	}
	return nil
}

func (f *File) String() string { return fmt.Sprintf("%s(%s)", f.AssetType, f.Path) }
