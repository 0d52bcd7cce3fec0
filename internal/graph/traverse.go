package graph

import "iter"

// BreadthFirst yields n and everything below it, level by level.
func (n *Node) BreadthFirst() iter.Seq[*Node] {
	return n.walk(func(*Node, bool) (bool, bool) { return true, true })
}

// BreadthFirstOfType only yields and descends into nodes of type t.
func (n *Node) BreadthFirstOfType(t Type) iter.Seq[*Node] {
	return n.walk(func(c *Node, _ bool) (bool, bool) {
		ok := c.typ == t
		return ok, ok
	})
}

// WithinFigure yields n and its descendants breadth first, without
// entering other top nodes such as a conformed figure parented below.
func (n *Node) WithinFigure() iter.Seq[*Node] {
	return n.walk(func(c *Node, first bool) (bool, bool) {
		ok := first || !c.IsTopNode()
		return ok, ok
	})
}

// walk runs a breadth-first traversal. visit decides for each node whether
// to yield it and whether to queue its children.
func (n *Node) walk(visit func(c *Node, first bool) (yield, descend bool)) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		queue := []*Node{n}
		first := true
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			emit, descend := visit(c, first)
			first = false
			if emit && !yield(c) {
				return
			}
			if descend {
				queue = append(queue, c.Children()...)
			}
		}
	}
}

// DepthFirst yields n and everything below it, parents before children.
func (n *Node) DepthFirst() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		n.depthFirst(yield)
	}
}

func (n *Node) depthFirst(yield func(*Node) bool) bool {
	if !yield(n) {
		return false
	}
	for _, c := range n.Children() {
		if !c.depthFirst(yield) {
			return false
		}
	}
	return true
}

// DepthFirst walks the scene, then the library.
func (e *Environment) DepthFirst() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		if e.Scene().depthFirst(yield) {
			e.Library().depthFirst(yield)
		}
	}
}

// Bones yields the joints below n, descending through joints only.
func (n *Node) Bones() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, c := range n.Children() {
			for b := range c.BreadthFirstOfType(TypeBone) {
				if !yield(b) {
					return
				}
			}
		}
	}
}

// AncestorBoneWithAssetID walks up from n through bones and returns the
// first whose asset id matches.
func (n *Node) AncestorBoneWithAssetID(assetID string) *Node {
	for b := n; b != nil && b.typ == TypeBone; b = b.Parent() {
		if b.AssetID() == assetID {
			return b
		}
	}
	return nil
}
