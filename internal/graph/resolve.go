package graph

import (
	"fmt"

	"github.com/agentic-research/dsongraph/internal/dsonurl"
)

// maxAliasDepth bounds alias chains followed by ResolveModifierURL.
const maxAliasDepth = 16

// Resolved is what a URL points at: a node, or a property on a node when
// the URL has a query.
type Resolved struct {
	Node     *Node
	Property *Property
}

// IsProperty reports whether the URL resolved to a property.
func (r Resolved) IsProperty() bool { return r.Property != nil }

// ResolveURL resolves a URL relative to n. A path loads that file; a
// fragment is searched for among the file's nodes, or n's own file when
// there is no path. A scheme names a node near n's top node by id or asset
// id, and the fragment is then searched inside it. A URL naming only a file
// is rejected.
func (n *Node) ResolveURL(raw string) (Resolved, error) {
	u := dsonurl.Parse(raw)
	if u.EscapedScheme() == "" && u.EscapedFragment() == "" {
		return Resolved{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	file := n.file
	if u.EscapedPath() != "" {
		f, err := n.env.GetOrLoadFile(u.Path())
		if err != nil {
			return Resolved{}, err
		}
		file = f
	}

	var target *Node
	switch {
	case u.EscapedScheme() != "":
		scope := findIDOrAssetID(n.FindTopNode(), u.Scheme())
		if scope == nil {
			return Resolved{}, &NodeNotFoundError{Node: n.String(), Missing: raw,
				Msg: fmt.Sprintf("referenced id in scheme that isn't loaded: %s (context: %s)", raw, n)}
		}
		target = scope
		if u.EscapedFragment() != "" {
			target = findIDOrAssetID(scope, u.Fragment())
		}
	case file != nil:
		target = file.FindNodeID(u.Fragment())
	default:
		target = n.FindNodeID(u.Fragment())
	}
	if target == nil {
		return Resolved{}, &NodeNotFoundError{Node: n.String(), Missing: raw,
			Msg: fmt.Sprintf("referenced id in fragment that isn't loaded: %s (context: %s)", raw, n)}
	}

	if u.EscapedQuery() == "" {
		return Resolved{Node: target}, nil
	}
	p, err := target.Property(u.EscapedQuery())
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Node: target, Property: p}, nil
}

func findIDOrAssetID(scope *Node, id string) *Node {
	for c := range scope.BreadthFirst() {
		if c.nodeID == id || (c.asset != 0 && c.Asset().nodeID == id) {
			return c
		}
	}
	return nil
}

// ResolveNode resolves a URL that must name a node.
func (n *Node) ResolveNode(raw string) (*Node, error) {
	r, err := n.ResolveURL(raw)
	if err != nil {
		return nil, err
	}
	if r.Property != nil {
		return nil, fmt.Errorf("%w: %q names a property, not a node", ErrInvalidURL, raw)
	}
	return r.Node, nil
}

// ResolveProperty resolves a URL that must name a property.
func (n *Node) ResolveProperty(raw string) (*Property, error) {
	r, err := n.ResolveURL(raw)
	if err != nil {
		return nil, err
	}
	if r.Property == nil {
		return nil, fmt.Errorf("%w: %q has no property query", ErrInvalidURL, raw)
	}
	return r.Property, nil
}

// ResolveModifierURL resolves a URL found in a modifier formula. The search
// starts at n's top node and looks down within the figure for instances by
// asset id: first the scheme, if any, then the fragment. Aliases are
// followed to their target channel. With loadFiles, the URL's file is
// loaded first; a missing file is only logged.
func (n *Node) ResolveModifierURL(raw string, loadFiles bool) (Resolved, error) {
	return n.FindTopNode().resolveModifierURL(dsonurl.Parse(raw), loadFiles, 0)
}

func (n *Node) resolveModifierURL(u dsonurl.URL, loadFiles bool, depth int) (Resolved, error) {
	if u.EscapedPath() != "" && loadFiles {
		f, err := n.env.TryLoadFile(u.Path())
		if err != nil {
			return Resolved{}, err
		}
		if f == nil {
			n.env.logger.Warn("couldn't find file", "path", u.Path())
		}
	}

	scope := n
	if u.EscapedScheme() != "" {
		s, err := n.SearchInstanceWithAssetID(u.Scheme())
		if err != nil {
			return Resolved{}, err
		}
		scope = s
	}
	target, err := scope.SearchInstanceWithAssetID(u.Fragment())
	if err != nil {
		return Resolved{}, err
	}

	if target.Value("channel/type", nil) == "alias" {
		if depth >= maxAliasDepth {
			return Resolved{}, fmt.Errorf("%s: alias chain deeper than %d", target, maxAliasDepth)
		}
		tc, err := target.Property("channel/target_channel")
		if err != nil {
			return Resolved{}, err
		}
		return target.FindTopNode().resolveModifierURL(tc.ParsedURL(), loadFiles, depth+1)
	}

	if u.EscapedQuery() == "" {
		return Resolved{Node: target}, nil
	}
	p, err := target.Property(u.EscapedQuery())
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Node: target, Property: p}, nil
}

// SearchInstanceWithAssetID finds the first node within n's figure, breadth
// first, whose asset has the given id. n must be an instance.
func (n *Node) SearchInstanceWithAssetID(assetID string) (*Node, error) {
	if !n.IsInstanced() {
		return nil, fmt.Errorf("search %s for %q: %w", n, assetID, ErrNotInstanced)
	}
	for c := range n.WithinFigure() {
		if a := c.Asset(); a != nil && a.nodeID == assetID {
			return c, nil
		}
	}
	return nil, notFound(n, assetID)
}

// FindAssetName finds the first instance within n's figure whose asset is
// named name, or lists it in name_aliases. n must be an instance.
func (n *Node) FindAssetName(name string) (*Node, error) {
	if !n.IsInstanced() {
		return nil, fmt.Errorf("search %s for %q: %w", n, name, ErrNotInstanced)
	}
	for c := range n.WithinFigure() {
		a := c.Asset()
		if a != nil && hasName(a, name) {
			return c, nil
		}
	}
	return nil, notFound(n, name)
}

// FindDescendantWithName finds the first node within n's figure named name,
// or listing it in name_aliases.
func (n *Node) FindDescendantWithName(name string) (*Node, error) {
	for c := range n.WithinFigure() {
		if hasName(c, name) {
			return c, nil
		}
	}
	return nil, notFound(n, name)
}

func hasName(n *Node, name string) bool {
	if n.Value("name", nil) == name {
		return true
	}
	aliases, _ := n.Value("name_aliases", nil).([]any)
	for _, a := range aliases {
		if a == name {
			return true
		}
	}
	return false
}
