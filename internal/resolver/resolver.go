// Package resolver works out, for the figures in a scene, which modifiers
// in the whole library can affect them and what their static values are,
// using the modifier cache instead of loading every modifier file.
package resolver

import (
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"

	"github.com/agentic-research/dsongraph/api"
	"github.com/agentic-research/dsongraph/internal/dsonurl"
	"github.com/agentic-research/dsongraph/internal/formula"
	"github.com/agentic-research/dsongraph/internal/graph"
	"github.com/agentic-research/dsongraph/internal/logging"
)

// GrandparentScheme in a formula URL means the lookup starts at the parent
// of the figure the modifier applies to. It is only generated for
// auto_follow formulas, which read a channel on the figure being conformed
// to.
const GrandparentScheme = "~grandparent"

// maxAliasDepth bounds alias chains.
const maxAliasDepth = 16

// target is one entry of a figure's descendant map: an instanced node or a
// cached modifier that has no instance.
type target struct {
	node *graph.Node
	mod  *ModifierAsset
}

type urlKey struct {
	instance *graph.Node
	url      string
}

// Resolver holds everything computed from a set of figures and the cache.
// It is immutable once built; ModifierInfo can be called repeatedly with
// different configurations.
type Resolver struct {
	logger *slog.Logger

	// modifiers in file order, each bound to its instance.
	modifiers []*ModifierAsset
	// byParent maps an instance to the cached modifiers whose parent it
	// is, keyed by the modifier's asset id.
	byParent map[*graph.Node]map[string]*ModifierAsset
	// descendants maps each instance in a figure to what lies below it,
	// keyed by id.
	descendants map[*graph.Node]map[string]target

	refs         map[urlKey]Reference
	cachedValues map[Reference]float64
	cachedOrder  []Reference

	formulasByOutput map[Reference][]*formula.Formula
	required         map[string]map[string]bool
	requiredBy       map[string]map[string]bool

	order        []Reference
	stuck        []Reference
	staticValues map[Reference]float64
	all          map[string]*ModifierAsset
}

// New builds a resolver for figures, which are instanced top nodes, from
// the cache's per-file index. A nil logger discards.
func New(figures []*graph.Node, infoPerFile map[string]*api.FileInfo, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Resolver{
		logger:           logger,
		byParent:         make(map[*graph.Node]map[string]*ModifierAsset),
		descendants:      make(map[*graph.Node]map[string]target),
		refs:             make(map[urlKey]Reference),
		cachedValues:     make(map[Reference]float64),
		formulasByOutput: make(map[Reference][]*formula.Formula),
		required:         make(map[string]map[string]bool),
		requiredBy:       make(map[string]map[string]bool),
		staticValues:     make(map[Reference]float64),
		all:              make(map[string]*ModifierAsset),
	}
	for _, fig := range figures {
		if err := r.addFigure(fig, infoPerFile); err != nil {
			return nil, err
		}
	}
	r.cacheValues()
	r.buildFormulas()
	r.buildDependencies()

	for _, ref := range r.cachedOrder {
		if m, ok := ref.(*ModifierAsset); ok && !m.IsAlias() {
			r.all[m.AssetURL()] = m
		}
	}
	logger.Debug("resolved modifiers", "figures", len(figures), "modifiers", len(r.modifiers),
		"references", len(r.cachedValues), "available", len(r.all))
	return r, nil
}

// addFigure binds every cached modifier whose parent is instanced within
// fig, then maps the descendants of each instance in it.
func (r *Resolver) addFigure(fig *graph.Node, infoPerFile map[string]*api.FileInfo) error {
	if _, done := r.descendants[fig]; done {
		return nil
	}
	instances := make(map[string]*graph.Node)
	for n := range fig.WithinFigure() {
		if a := n.Asset(); a != nil {
			instances[dsonurl.AssetIDString(a.URL())] = n
		}
	}

	for _, rel := range slices.Sorted(maps.Keys(infoPerFile)) {
		fi := infoPerFile[rel]
		for _, key := range slices.Sorted(maps.Keys(fi.Modifiers)) {
			info := fi.Modifiers[key]
			instance := instances[dsonurl.AssetIDString(info.Parent)]
			if instance == nil {
				continue
			}
			m, err := newModifierAsset(info, fi, instance)
			if err != nil {
				return fmt.Errorf("copy modifier %s: %w", info.URL, err)
			}
			onInstance := r.byParent[instance]
			if onInstance == nil {
				onInstance = make(map[string]*ModifierAsset)
				r.byParent[instance] = onInstance
			}
			onInstance[dsonurl.AssetIDString(m.AssetURL())] = m
			r.modifiers = append(r.modifiers, m)
		}
	}

	for t := range r.withinFigure(fig) {
		if t.node == nil || t.node.Asset() == nil {
			continue
		}
		if _, ok := r.descendants[t.node]; ok {
			continue
		}
		// Breadth first, so the nearest of several same-id descendants wins.
		desc := make(map[string]target)
		for d := range r.withinFigure(t.node) {
			var id string
			if d.mod != nil {
				id = d.mod.Info.ID
			} else {
				id = d.node.AssetID()
			}
			if _, ok := desc[id]; !ok {
				desc[id] = d
			}
		}
		r.descendants[t.node] = desc
	}
	return nil
}

// withinFigure yields n and its descendants breadth first, without entering
// other top nodes. Cached modifiers that have no instance are yielded as
// children of the instance they apply to.
func (r *Resolver) withinFigure(n *graph.Node) iter.Seq[target] {
	return func(yield func(target) bool) {
		queue := []target{{node: n}}
		for len(queue) > 0 {
			t := queue[0]
			queue = queue[1:]
			if !yield(t) {
				return
			}
			if t.mod != nil {
				continue
			}

			var pending map[string]*ModifierAsset
			if t.node.Asset() != nil {
				pending = maps.Clone(r.byParent[t.node])
			}
			for _, c := range t.node.Children() {
				if c.IsTopNode() {
					continue
				}
				if a := c.Asset(); a != nil {
					delete(pending, dsonurl.AssetIDString(a.URL()))
				}
				queue = append(queue, target{node: c})
			}
			for _, id := range slices.Sorted(maps.Keys(pending)) {
				queue = append(queue, target{mod: pending[id]})
			}
		}
	}
}

// resolve finds what a formula URL points at, starting from the instance a
// modifier applies to. Only the fragment and query are used; the path is
// implied by the modifier's parent. It returns a property on an instance, a
// cached modifier, or neither.
func (r *Resolver) resolve(u dsonurl.URL, instance *graph.Node, depth int) (*graph.Property, *ModifierAsset) {
	if u.Scheme() == GrandparentScheme {
		instance = instance.Parent()
		if instance == nil {
			return nil, nil
		}
	}
	t, ok := r.descendants[instance][u.Fragment()]
	if !ok {
		return nil, nil
	}

	var aliasTarget string
	switch {
	case t.mod != nil && t.mod.IsAlias():
		aliasTarget = t.mod.Info.TargetChannel
	case t.node != nil && t.node.Value("channel/type", nil) == "alias":
		aliasTarget, _ = t.node.Value("channel/target_channel", "").(string)
	}
	if aliasTarget != "" {
		if depth >= maxAliasDepth {
			r.logger.Warn("alias chain too deep", "url", u.String(), "instance", instance.String())
			return nil, nil
		}
		return r.resolve(dsonurl.Parse(aliasTarget), instance, depth+1)
	}

	if t.mod != nil {
		return nil, t.mod
	}
	p, err := t.node.Property(u.EscapedQuery())
	if err != nil {
		return nil, nil
	}
	return p, nil
}

// CachedModifierFromNode returns the cached modifier a modifier instance
// was created from, or nil.
func (r *Resolver) CachedModifierFromNode(n *graph.Node) *ModifierAsset {
	a := n.Asset()
	if a == nil {
		return nil
	}
	return r.byParent[n.Parent()][dsonurl.AssetIDString(a.URL())]
}

// CachedModifierFromNodeName returns the cached modifier named name that
// applies to n, or nil.
func (r *Resolver) CachedModifierFromNodeName(n *graph.Node, name string) *ModifierAsset {
	onNode := r.byParent[n]
	for _, id := range slices.Sorted(maps.Keys(onNode)) {
		if m := onNode[id]; m.Info.Name == name {
			return m
		}
	}
	return nil
}

// reference canonicalizes a formula URL seen from instance and records the
// referenced channel's current value the first time it is seen.
func (r *Resolver) reference(raw string, instance *graph.Node) Reference {
	key := urlKey{instance, raw}
	if ref, ok := r.refs[key]; ok {
		return ref
	}

	var ref Reference
	var value float64
	prop, mod := r.resolve(dsonurl.Parse(raw), instance, 0)
	switch {
	case prop != nil:
		// An instanced channel, perhaps of a modifier: use its value.
		if v, err := prop.ValueWithDefault(); err == nil {
			value = r.toFloat(v, prop.String())
		}
		if m := r.CachedModifierFromNode(prop.Node()); m != nil {
			ref = m
		} else {
			ref = &NonModifierReference{URL: raw}
		}
	case mod != nil:
		value = r.toFloat(mod.Info.Channel["value"], mod.AssetURL())
		ref = mod
	default:
		// Usually a non-modifier channel that isn't instanced, like a
		// joint of another figure.
		ref = &NonModifierReference{URL: raw}
	}

	if _, seen := r.cachedValues[ref]; !seen {
		r.cachedOrder = append(r.cachedOrder, ref)
	}
	r.cachedValues[ref] = value
	r.refs[key] = ref
	return ref
}

func (r *Resolver) toFloat(v any, what string) float64 {
	if v == nil {
		return 0
	}
	f, err := formula.ToFloat(v)
	if err != nil {
		r.logger.Debug("non-numeric channel value", "channel", what, "err", err)
		return 0
	}
	return f
}

// cacheValues records the current value of every channel the modifiers
// touch, adding the implicit formula of auto_follow modifiers first.
func (r *Resolver) cacheValues() {
	for _, m := range r.modifiers {
		if m.IsAlias() {
			continue
		}
		instance := m.Instance.FindTopNode()
		if m.AutoFollow() {
			r.addAutoFollowFormula(m, instance)
		}
		r.reference(m.Info.ChannelURL, instance)
		for _, f := range m.Info.Formulas {
			r.reference(f.Output, instance)
			for _, op := range f.Operations {
				if op.Op == "push" && op.URL != "" {
					r.reference(op.URL, instance)
				}
			}
		}
	}
}

// addAutoFollowFormula makes m follow the channel with the same name on
// the figure its instance is conformed to.
func (r *Resolver) addAutoFollowFormula(m *ModifierAsset, instance *graph.Node) {
	parent := instance.Parent()
	if parent == nil {
		return
	}
	name := m.Info.Name
	following, err := parent.FindAssetName(name)
	if err != nil {
		return
	}
	r.logger.Debug("auto_follow", "modifier", m.AssetURL(), "following", following.String())

	var in dsonurl.URL
	in.SetScheme(GrandparentScheme)
	in.SetFragment(following.Asset().NodeID())
	in.SetQuery("value")

	var out dsonurl.URL
	assetName := ""
	if a := instance.Asset(); a != nil {
		assetName = a.Name()
	}
	out.SetScheme(assetName)
	out.SetFragment(name)
	out.SetQuery("value")

	m.Info.Formulas = append(m.Info.Formulas, api.Formula{
		Output:     out.String(),
		Operations: []api.Operation{{Op: "push", URL: in.String()}},
	})
}

// buildFormulas converts every modifier formula to a formula.Formula over
// References and groups them by output.
func (r *Resolver) buildFormulas() {
	for _, m := range r.modifiers {
		if m.IsAlias() {
			continue
		}
		instance := m.Instance.FindTopNode()
		for i, raw := range m.Info.Formulas {
			name := fmt.Sprintf("%s#%d", m.Info.ChannelPath, i)
			f, err := r.convertFormula(name, raw, instance)
			if err != nil {
				r.logger.Warn("skipping formula", "formula", name, "modifier", m.AssetURL(), "err", err)
				continue
			}
			m.formulas = append(m.formulas, f)
			out := f.Output.(Reference)
			r.formulasByOutput[out] = append(r.formulasByOutput[out], f)
		}
	}
}

func (r *Resolver) convertFormula(name string, raw api.Formula, instance *graph.Node) (*formula.Formula, error) {
	stage, err := formula.ParseStage(raw.Stage)
	if err != nil {
		return nil, err
	}
	ops := make([]formula.Operation, 0, len(raw.Operations))
	for _, op := range raw.Operations {
		code, err := formula.ParseOpCode(op.Op)
		if err != nil {
			return nil, err
		}
		switch {
		case code != formula.OpPush:
			ops = append(ops, formula.Op(code))
		case op.URL != "":
			ops = append(ops, formula.PushRef(r.reference(op.URL, instance)))
		case op.Val != nil:
			v, err := formula.ValueOf(op.Val)
			if err != nil {
				return nil, err
			}
			ops = append(ops, formula.PushValue(v))
		default:
			return nil, formula.ErrUnsupportedOperand
		}
	}
	f := formula.New(name, r.reference(raw.Output, instance), ops, stage)
	return f.Optimize(nil, nil)
}

func addEdge(m map[string]map[string]bool, from, to string) {
	set := m[from]
	if set == nil {
		set = make(map[string]bool)
		m[from] = set
	}
	set[to] = true
}

// buildDependencies fills the required maps, sorts every reference into
// evaluation order and computes static values in that order.
func (r *Resolver) buildDependencies() {
	g := newDependencyGraph()
	for _, m := range r.modifiers {
		if !m.IsAlias() {
			g.add(m)
		}
	}

	for _, m := range r.modifiers {
		for _, f := range m.formulas {
			out := f.Output.(Reference)
			g.add(out)
			if om, ok := out.(*ModifierAsset); ok && om.AssetURL() != m.AssetURL() {
				// Writing into another modifier makes this one need it.
				addEdge(r.required, m.AssetURL(), om.AssetURL())
				addEdge(r.requiredBy, om.AssetURL(), m.AssetURL())
			}
			for _, in := range f.Inputs() {
				ref := in.(Reference)
				// A modifier read by another is only there to drive it,
				// so the reader is what requires it.
				if im, ok := ref.(*ModifierAsset); ok && im.AssetURL() != m.AssetURL() {
					addEdge(r.required, im.AssetURL(), m.AssetURL())
					addEdge(r.requiredBy, m.AssetURL(), im.AssetURL())
				}
				g.require(out, ref)
			}
		}
	}

	r.order, r.stuck = g.sort()
	if len(r.stuck) > 0 {
		names := make([]string, len(r.stuck))
		for i, ref := range r.stuck {
			names[i] = ref.String()
		}
		r.logger.Warn("cyclic modifier dependency, static values not computed", "references", names)
	}

	for _, ref := range r.order {
		list := make([]*formula.Formula, 0, len(r.formulasByOutput[ref]))
		for _, f := range r.formulasByOutput[ref] {
			list = append(list, f.WithOperations(r.bakeInputs(f.Operations)))
		}
		v, err := formula.EvaluateList(list, r.cachedValues[ref], nil)
		if err != nil {
			r.logger.Warn("evaluating static value", "reference", ref.String(), "err", err)
			v = r.cachedValues[ref]
		}
		r.staticValues[ref] = v
	}
	for _, ref := range r.stuck {
		r.staticValues[ref] = r.cachedValues[ref]
	}
}

// bakeInputs replaces every reference push with the static value already
// computed for it.
func (r *Resolver) bakeInputs(ops []formula.Operation) []formula.Operation {
	out := make([]formula.Operation, len(ops))
	for i, op := range ops {
		if op.Code == formula.OpPush && op.Ref != nil {
			op = formula.PushScalar(r.staticValues[op.Ref.(Reference)])
		}
		out[i] = op
	}
	return out
}

// Modifiers yields every cached modifier bound to an instance, with that
// instance.
func (r *Resolver) Modifiers() iter.Seq2[*graph.Node, *ModifierAsset] {
	return func(yield func(*graph.Node, *ModifierAsset) bool) {
		for _, m := range r.modifiers {
			if !yield(m.Instance, m) {
				return
			}
		}
	}
}

// AllModifiers returns every non-alias modifier reachable from the
// figures, keyed by asset URL.
func (r *Resolver) AllModifiers() map[string]*ModifierAsset {
	return maps.Clone(r.all)
}

// Modifier returns a reachable modifier by asset URL.
func (r *Resolver) Modifier(url string) *ModifierAsset { return r.all[url] }

// ModifiersRequired returns the sorted URLs of the modifiers that need the
// modifier at url.
func (r *Resolver) ModifiersRequired(url string) []string {
	return slices.Sorted(maps.Keys(r.required[url]))
}

// ModifiersRequiredBy returns the sorted URLs of the modifiers that the
// modifier at url needs.
func (r *Resolver) ModifiersRequiredBy(url string) []string {
	return slices.Sorted(maps.Keys(r.requiredBy[url]))
}

// Order returns every reference in evaluation order. References caught in
// a dependency cycle are missing; see Stuck.
func (r *Resolver) Order() []Reference { return slices.Clone(r.order) }

// Stuck returns the references left unordered by a dependency cycle.
func (r *Resolver) Stuck() []Reference { return slices.Clone(r.stuck) }

// CachedValue is the channel's current value in the scene, before formulas.
func (r *Resolver) CachedValue(ref Reference) (float64, bool) {
	v, ok := r.cachedValues[ref]
	return v, ok
}

// StaticValue is the channel's value with formulas applied.
func (r *Resolver) StaticValue(ref Reference) (float64, bool) {
	v, ok := r.staticValues[ref]
	return v, ok
}
