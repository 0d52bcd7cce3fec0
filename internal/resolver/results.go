package resolver

import (
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/agentic-research/dsongraph/internal/dsonurl"
	"github.com/agentic-research/dsongraph/internal/formula"
	"github.com/agentic-research/dsongraph/internal/graph"
)

// Results classifies every reachable modifier under one AssetConfig. The
// maps are keyed by asset URL.
//
// A zero modifier is Unavailable when something other than its own
// configuration holds it at zero, AvailableForDynamic when it is zero only
// because it is static, and Unused otherwise. Nonzero modifiers are Used.
type Results struct {
	All                 map[string]*ModifierAsset
	Used                map[string]*ModifierAsset
	Unused              map[string]*ModifierAsset
	Unavailable         map[string]*ModifierAsset
	AvailableForDynamic map[string]*ModifierAsset
	// Available is Used, Unused and AvailableForDynamic together.
	Available map[string]*ModifierAsset

	// Dynamic holds the URLs of the modifiers configured dynamic.
	Dynamic map[string]bool

	// StaticValues is each reference's value with formulas applied.
	StaticValues map[Reference]float64
}

// IsZero reports whether m's static value is zero.
func (res *Results) IsZero(m *ModifierAsset) bool {
	return math.Abs(res.StaticValues[m]) < formula.Epsilon
}

// ModifierStaticValues returns the static value of each classified
// modifier by asset URL.
func (res *Results) ModifierStaticValues() map[string]float64 {
	out := make(map[string]float64, len(res.All))
	for url, m := range res.All {
		out[url] = res.StaticValues[m]
	}
	return out
}

// Status names the class m fell into, or "" if it isn't classified.
func (res *Results) Status(m *ModifierAsset) string {
	url := m.AssetURL()
	switch {
	case res.Used[url] != nil:
		return "used"
	case res.Unused[url] != nil:
		return "unused"
	case res.Unavailable[url] != nil:
		return "unavailable"
	case res.AvailableForDynamic[url] != nil:
		return "available_for_dynamic"
	}
	return ""
}

// ModifierInfo classifies the modifiers under config.
//
// A modifier is forced constant when a mult-stage formula multiplies it by
// zero, or when nothing outside the formulas drives it and its formulas
// reduce to a constant once constant inputs are baked in. Otherwise it is
// configured constant when config leaves it static. Both kinds are baked
// into the formulas of the modifiers that read them, which are visited in
// dependency order.
func (r *Resolver) ModifierInfo(config *AssetConfig) *Results {
	constant := make(map[Reference]bool)
	forced := make(map[*ModifierAsset]bool)
	configured := make(map[*ModifierAsset]bool)

	policy := formula.PolicyFunc(func(ref formula.Ref) bool { return !constant[ref.(Reference)] })
	inputs := formula.InputsFunc(func(ref formula.Ref) (formula.Value, error) {
		return formula.Scalar(r.staticValues[ref.(Reference)]), nil
	})

	for _, ref := range r.order {
		m, ok := ref.(*ModifierAsset)
		if !ok {
			// Joints and other non-modifier channels are never constant.
			continue
		}
		var list []*formula.Formula
		for _, f := range r.formulasByOutput[ref] {
			baked, err := f.Optimize(policy, inputs)
			if err != nil {
				r.logger.Warn("optimizing formula", "formula", f.Name, "err", err)
				continue
			}
			list = append(list, baked)
		}

		switch {
		case formula.MultipliesByZero(list):
			forced[m] = true
		case !config.ChannelHasExternalInputs(m) && formula.ListIsConstant(list):
			forced[m] = true
		case !config.Dynamic(m):
			configured[m] = true
		default:
			continue
		}
		constant[m] = true
	}

	res := &Results{
		All:                 maps.Clone(r.all),
		Used:                make(map[string]*ModifierAsset),
		Unused:              make(map[string]*ModifierAsset),
		Unavailable:         make(map[string]*ModifierAsset),
		AvailableForDynamic: make(map[string]*ModifierAsset),
		Available:           make(map[string]*ModifierAsset),
		Dynamic:             make(map[string]bool),
		StaticValues:        maps.Clone(r.staticValues),
	}
	for _, ref := range r.cachedOrder {
		m, ok := ref.(*ModifierAsset)
		if !ok || m.IsAlias() {
			continue
		}
		url := m.AssetURL()
		if config.Dynamic(m) {
			res.Dynamic[url] = true
		}
		switch {
		case !res.IsZero(m):
			res.Used[url] = m
		case forced[m]:
			res.Unavailable[url] = m
		case configured[m]:
			res.AvailableForDynamic[url] = m
		default:
			res.Unused[url] = m
		}
	}
	for _, set := range []map[string]*ModifierAsset{res.Used, res.Unused, res.AvailableForDynamic} {
		maps.Copy(res.Available, set)
	}
	return res
}

// FavoriteModifiers returns the sorted asset URLs of the modifiers marked
// as favorites on nodes in env's scene.
//
// Favorites are stored on the figure as ids rather than URLs, sometimes
// with "/Value" appended, and sometimes under "channels" instead of
// "favorites".
func (r *Resolver) FavoriteModifiers(env *graph.Environment) []string {
	found := make(map[string]bool)
	for n := range env.Scene().DepthFirst() {
		var names []any
		for _, key := range []string{"favorites", "channels"} {
			list, _ := n.Value("extra/studio_node_channels/"+key, nil).([]any)
			names = append(names, list...)
		}
		for _, raw := range names {
			// "channels" can also hold channel definitions.
			name, ok := raw.(string)
			if !ok {
				continue
			}
			name, _, _ = strings.Cut(name, "/")
			name = dsonurl.Unescape(name)

			// A favorite saved in the scene is instanced; the rest are
			// found among the cached modifiers.
			if inst, err := n.FindAssetName(name); err == nil {
				found[inst.AssetURL()] = true
				continue
			}
			if url := r.favoriteWithinFigure(n, name); url != "" {
				found[url] = true
				continue
			}
			r.logger.Warn("favorite modifier not found", "name", name, "node", n.String())
		}
	}
	return slices.Sorted(maps.Keys(found))
}

func (r *Resolver) favoriteWithinFigure(n *graph.Node, name string) string {
	for t := range r.withinFigure(n) {
		if t.node == nil {
			continue
		}
		m := r.CachedModifierFromNodeName(t.node, name)
		if m == nil {
			continue
		}
		if !m.IsAlias() {
			return m.AssetURL()
		}
		prop, mod := r.resolve(dsonurl.Parse(m.Info.TargetChannel), n, 0)
		switch {
		case mod != nil:
			return mod.AssetURL()
		case prop != nil:
			if cm := r.CachedModifierFromNode(prop.Node()); cm != nil {
				return cm.AssetURL()
			}
			return prop.Node().AssetURL()
		}
		return ""
	}
	return ""
}
