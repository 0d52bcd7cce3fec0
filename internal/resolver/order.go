package resolver

import (
	"github.com/RoaringBitmap/roaring"
)

// dependencyGraph numbers references in insertion order and records, for
// each, the references that must be evaluated before it.
type dependencyGraph struct {
	index map[Reference]uint32
	refs  []Reference
	deps  []*roaring.Bitmap
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{index: make(map[Reference]uint32)}
}

func (g *dependencyGraph) add(r Reference) uint32 {
	if i, ok := g.index[r]; ok {
		return i
	}
	i := uint32(len(g.refs))
	g.index[r] = i
	g.refs = append(g.refs, r)
	g.deps = append(g.deps, roaring.New())
	return i
}

// require records that r reads dep.
func (g *dependencyGraph) require(r, dep Reference) {
	i := g.add(r)
	g.deps[i].Add(g.add(dep))
}

// sort orders the references so each comes after everything it requires.
// It works in passes, each emitting every reference whose requirements were
// all emitted by earlier passes, in insertion order. A pass that emits
// nothing means a cycle; the references still pending are returned as
// stuck.
func (g *dependencyGraph) sort() (order, stuck []Reference) {
	done := roaring.New()
	pending := roaring.New()
	pending.AddRange(0, uint64(len(g.refs)))

	for !pending.IsEmpty() {
		var emitted []uint32
		it := pending.Iterator()
		for it.HasNext() {
			i := it.Next()
			if roaring.AndNot(g.deps[i], done).IsEmpty() {
				emitted = append(emitted, i)
			}
		}
		if len(emitted) == 0 {
			it := pending.Iterator()
			for it.HasNext() {
				stuck = append(stuck, g.refs[it.Next()])
			}
			return order, stuck
		}
		for _, i := range emitted {
			done.Add(i)
			pending.Remove(i)
			order = append(order, g.refs[i])
		}
	}
	return order, nil
}
