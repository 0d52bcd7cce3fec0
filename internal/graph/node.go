package graph

import (
	"fmt"
	"slices"

	"github.com/agentic-research/dsongraph/internal/formula"
)

// NodeID is an index into the environment's node arena. Zero is the nil handle.
type NodeID uint32

// Source says which section of a file a node was loaded from.
type Source int

const (
	SourceNode Source = iota
	SourceGeometry
	SourceModifier
	SourceMaterial
	SourceScene
	SourceLibrary
)

var sourceNames = [...]string{"node", "geometry", "modifier", "material", "scene", "library"}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// Type is the declared type of a node loaded from a node section.
type Type int

const (
	TypeNone Type = iota
	TypeNode
	TypeFigure
	TypeBone
	TypeCamera
	TypeLight
	TypeOther
)

func parseType(s string) Type {
	switch s {
	case "":
		return TypeNone
	case "node":
		return TypeNode
	case "figure":
		return TypeFigure
	case "bone":
		return TypeBone
	case "camera":
		return TypeCamera
	case "light":
		return TypeLight
	}
	return TypeOther
}

// Node is an asset template in the library or an instance in the scene.
// Parent, asset and root are arena handles, never owning pointers.
type Node struct {
	env      *Environment
	id       NodeID
	source   Source
	typ      Type
	typeName string
	nodeID   string
	url      string
	data     map[string]any
	file     *File

	parent   NodeID
	children []NodeID
	asset    NodeID
	root     NodeID

	materials map[string]NodeID

	// Formulas maps a property path on this node to the formulas that
	// write it.
	Formulas map[string][]*formula.Formula

	// FormulaOutputs maps a property path on this node to formulas that
	// read it. Consumers that wire formulas into a live network register
	// them here; static evaluation doesn't.
	FormulaOutputs map[string][]*formula.Formula

	// Attachments holds consumer data keyed by property path. The graph
	// never reads it.
	Attachments map[string]any
}

func (n *Node) ID() NodeID               { return n.id }
func (n *Node) Env() *Environment        { return n.env }
func (n *Node) NodeID() string           { return n.nodeID }
func (n *Node) Source() Source           { return n.source }
func (n *Node) Type() Type               { return n.typ }
func (n *Node) TypeName() string         { return n.typeName }
func (n *Node) URL() string              { return n.url }
func (n *Node) File() *File              { return n.file }
func (n *Node) Data() map[string]any     { return n.data }
func (n *Node) Parent() *Node            { return n.env.Node(n.parent) }
func (n *Node) Asset() *Node             { return n.env.Node(n.asset) }
func (n *Node) Root() *Node              { return n.env.Node(n.root) }
func (n *Node) IsModifier() bool         { return n.source == SourceModifier }
func (n *Node) IsRoot() bool             { return n.url == "/" }
func (n *Node) IsInstanced() bool        { return n.root == n.env.scene }
func (n *Node) NumChildren() int         { return len(n.children) }
func (n *Node) Materials() map[string]NodeID {
	return n.materials
}

// Children returns the node's children in load order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		if child := n.env.Node(c); child != nil {
			out = append(out, child)
		}
	}
	return out
}

// ChildrenOfType returns the children with the given declared type.
func (n *Node) ChildrenOfType(t Type) []*Node {
	var out []*Node
	for _, c := range n.Children() {
		if c.typ == t {
			out = append(out, c)
		}
	}
	return out
}

// AssetID is the id of the node's asset, or its own id if it has none.
func (n *Node) AssetID() string {
	if a := n.Asset(); a != nil {
		return a.nodeID
	}
	return n.nodeID
}

// AssetURL is the URL of the node's asset, or its own URL if it has none.
func (n *Node) AssetURL() string {
	if a := n.Asset(); a != nil {
		return a.url
	}
	return n.url
}

// FileAssetType returns asset_info.type of the file that defines the asset.
func (n *Node) FileAssetType() string {
	src := n
	if a := n.Asset(); a != nil {
		src = a
	}
	if src.file == nil {
		return ""
	}
	return src.file.AssetType
}

// Name returns the "name" property, searching the asset too.
func (n *Node) Name() string {
	s, _ := n.Value("name", "").(string)
	return s
}

// IsTopNode reports whether the node starts its own hierarchy, which is
// usually a figure. Bones, geometry and modifiers belong to the node above.
func (n *Node) IsTopNode() bool {
	return n.typ != TypeBone && n.source != SourceGeometry && n.source != SourceModifier
}

// FindTopNode walks up to the nearest top node.
func (n *Node) FindTopNode() *Node {
	node := n
	for node.parent != 0 && !node.IsTopNode() {
		node = node.Parent()
	}
	return node
}

// FirstGeometry returns the first immediate child loaded as geometry.
func (n *Node) FirstGeometry() *Node {
	for _, c := range n.Children() {
		if c.source == SourceGeometry {
			return c
		}
	}
	return nil
}

// FindRootJoint returns the first bone under the node's top node.
func (n *Node) FindRootJoint() *Node {
	for _, c := range n.FindTopNode().Children() {
		if c.typ == TypeBone {
			return c
		}
	}
	return nil
}

// ConformTarget resolves the conform_target of the node's top node. It
// returns nil without error when there is none.
func (n *Node) ConformTarget() (*Node, error) {
	top := n.FindTopNode()
	prop, ok := top.Get("conform_target")
	if !ok {
		return nil, nil
	}
	return prop.ResolveNode()
}

// FindPropertyFast reads a top-level key without path parsing, optionally
// falling back to the asset.
func (n *Node) FindPropertyFast(name string, searchAsset bool) (any, bool) {
	if v, ok := n.data[name]; ok {
		return v, true
	}
	if searchAsset {
		if a := n.Asset(); a != nil {
			v, ok := a.data[name]
			return v, ok
		}
	}
	return nil, false
}

// HasModifierDependants reports whether formulas read or write any of the
// given paths, or any path at all when none are given.
func (n *Node) HasModifierDependants(paths ...string) bool {
	if len(paths) == 0 {
		return len(n.Formulas) > 0 || len(n.FormulaOutputs) > 0
	}
	for _, p := range paths {
		if len(n.Formulas[p]) > 0 || len(n.FormulaOutputs[p]) > 0 {
			return true
		}
	}
	return false
}

// AddFormulaOutput records that f reads path on this node.
func (n *Node) AddFormulaOutput(path string, f *formula.Formula) {
	if n.FormulaOutputs == nil {
		n.FormulaOutputs = make(map[string][]*formula.Formula)
	}
	n.FormulaOutputs[path] = append(n.FormulaOutputs[path], f)
}

func (n *Node) addFormula(path string, f *formula.Formula) {
	if n.Formulas == nil {
		n.Formulas = make(map[string][]*formula.Formula)
	}
	n.Formulas[path] = append(n.Formulas[path], f)
}

// Delete detaches the node from its parent and its file's id table.
func (n *Node) Delete() error {
	parent := n.Parent()
	if parent == nil || n.file == nil {
		return fmt.Errorf("delete %s: node is not attached", n)
	}
	parent.children = slices.DeleteFunc(parent.children, func(c NodeID) bool { return c == n.id })
	n.file.remove(n)
	n.parent = 0
	n.file = nil
	return nil
}

func (n *Node) String() string {
	if n == nil {
		return "Node(<nil>)"
	}
	kind := n.source.String()
	if n.typeName != "" {
		kind = n.typeName
	}
	s := fmt.Sprintf("Node(%s:%s", kind, n.nodeID)
	if !n.IsInstanced() && n.file != nil {
		s += " in " + n.file.Path
	}
	return s + ")"
}

type nodeSpec struct {
	source Source
	data   map[string]any
	url    string
	file   *File
	parent NodeID
	root   NodeID
	asset  NodeID
}

// newNode builds a node and attaches it to its parent. The asset comes from
// the data's "url" unless s.asset is preset. An explicit "parent" URL is
// removed from the data, so instances do not inherit it, and resolved to
// the parent; otherwise the node hangs off its root. It returns nil
// without error for a node whose parent is on the other side of the
// scene/library divide.
func (e *Environment) newNode(s nodeSpec) (*Node, error) {
	n := &Node{
		env:    e,
		id:     NodeID(len(e.nodes)),
		source: s.source,
		data:   s.data,
		url:    s.url,
		file:   s.file,
		root:   s.root,
		asset:  s.asset,
	}
	e.nodes = append(e.nodes, n)
	if s.file != nil {
		s.file.members.Add(uint32(n.id))
	}
	n.nodeID, _ = s.data["id"].(string)

	if n.asset == 0 {
		if u, ok := s.data["url"].(string); ok && u != "" {
			asset, err := n.ResolveNode(u)
			if err != nil {
				return nil, err
			}
			n.asset = asset.id
		}
	}

	if s.source == SourceNode {
		if t, ok := n.FindPropertyFast("type", true); ok {
			n.typeName, _ = t.(string)
			n.typ = parseType(n.typeName)
		}
	}

	parent := s.parent
	if raw, ok := s.data["parent"]; ok {
		delete(s.data, "parent")
		if parent != 0 {
			return nil, fmt.Errorf("%s has both an implicit and an explicit parent", n)
		}
		pu, _ := raw.(string)
		p, err := n.ResolveNode(pu)
		if err != nil {
			return nil, err
		}
		if p.IsInstanced() != n.IsInstanced() {
			e.logger.Warn("skipping node", "node", n.String(), "parent", p.String(), "err", ErrParentMismatch)
			if s.file != nil {
				s.file.members.Remove(uint32(n.id))
			}
			return nil, nil
		}
		parent = p.id
	}
	if parent == 0 {
		parent = s.root
	}
	n.parent = parent
	if p := e.Node(parent); p != nil {
		p.children = append(p.children, n.id)
	}

	if s.file != nil {
		if err := s.file.addNodes(s.data["geometries"], SourceGeometry, s.root, n.id); err != nil {
			return nil, err
		}
	}

	if s.source == SourceMaterial {
		if err := n.registerMaterial(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// registerMaterial records the material on its geometry under each of its
// group names. Materials point at their geometry instead of being parented
// under it.
func (n *Node) registerMaterial() error {
	g, ok := n.Get("geometry")
	if !ok || g.Str() == "" {
		return nil
	}
	geometry, err := n.ResolveNode(g.Str())
	if err != nil {
		return err
	}
	if geometry.materials == nil {
		geometry.materials = make(map[string]NodeID)
	}
	groups, _ := n.Get("groups")
	if groups == nil {
		return nil
	}
	for _, grp := range groups.ArrayChildren() {
		name := grp.Str()
		if prev, dup := geometry.materials[name]; dup && prev != n.id {
			n.env.logger.Warn("material group assigned twice", "geometry", geometry.String(), "group", name)
		}
		geometry.materials[name] = n.id
	}
	return nil
}

// FindNodeID searches this node's subtree breadth first for a node id, so
// the shallowest of several nodes sharing an id wins.
func (n *Node) FindNodeID(id string) *Node {
	for c := range n.BreadthFirst() {
		if c.nodeID == id {
			return c
		}
	}
	return nil
}
