package graph

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/agentic-research/dsongraph/internal/dsonurl"
	"github.com/agentic-research/dsongraph/internal/formula"
)

// PropertyRef identifies a property for formulas. It is comparable, so it
// can key maps.
type PropertyRef struct {
	Node NodeID
	Path string
}

func (r PropertyRef) String() string { return fmt.Sprintf("@%d?%s", r.Node, r.Path) }

// Property is a value found inside a node's data, remembering the node it
// was asked on and the node whose data held it. The two differ when an
// instance falls back to its asset.
type Property struct {
	node   *Node
	source *Node
	path   string
	value  any
}

func (p *Property) Node() *Node   { return p.node }
func (p *Property) Source() *Node { return p.source }
func (p *Property) Path() string  { return p.path }
func (p *Property) Value() any    { return p.value }

func (p *Property) Ref() PropertyRef { return PropertyRef{Node: p.node.id, Path: p.path} }

func (p *Property) String() string { return fmt.Sprintf("%s(%s)", p.node, p.path) }

// Equal reports whether both refer to the same path on the same node.
func (p *Property) Equal(o *Property) bool {
	return o != nil && p.node == o.node && p.path == o.path
}

// Property returns a property below this one.
func (p *Property) Property(sub string) (*Property, error) {
	return p.node.Property(p.path + "/" + sub)
}

// Get is Property without the error detail.
func (p *Property) Get(sub string) (*Property, bool) {
	prop, err := p.Property(sub)
	return prop, err == nil
}

// GetValue returns the raw value below this property, or def.
func (p *Property) GetValue(sub string, def any) any {
	if prop, ok := p.Get(sub); ok {
		return prop.value
	}
	return def
}

// String value, or "" when the value isn't a string.
func (p *Property) Str() string {
	s, _ := p.value.(string)
	return s
}

// Float converts a numeric or boolean value.
func (p *Property) Float() (float64, error) {
	f, err := formula.ToFloat(p.value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p, err)
	}
	return f, nil
}

// URL addresses this property on its node.
func (p *Property) URL() string { return p.node.url + "?" + dsonurl.Escape(p.path) }

// AssetURL addresses this property on the node's asset.
func (p *Property) AssetURL() string { return p.node.AssetURL() + "?" + dsonurl.Escape(p.path) }

// LastPath is the final segment of the path, "x" for "translation/x".
func (p *Property) LastPath() string {
	return p.path[strings.LastIndexByte(p.path, '/')+1:]
}

// ParentProperty returns the property one level up on the same node.
func (p *Property) ParentProperty() (*Property, error) {
	i := strings.LastIndexByte(p.path, '/')
	if i < 0 {
		return nil, notFound(p.node, p.path+"/..")
	}
	return p.node.Property(p.path[:i])
}

// ArrayChildren returns one property per element of an array value.
func (p *Property) ArrayChildren() []*Property {
	list, _ := p.value.([]any)
	out := make([]*Property, len(list))
	for i, v := range list {
		out[i] = &Property{node: p.node, source: p.source, path: p.path + "/~" + strconv.Itoa(i), value: v}
	}
	return out
}

// ChannelChildren returns the channels of a channel array by id, so their
// paths read "translation/x" instead of "translation/~0". Channels only the
// asset defines are included, and the result is sorted by id.
func (p *Property) ChannelChildren() ([]*Property, error) {
	ids := channelIDs(p.value)
	if asset := p.AssetProperty(); asset != nil {
		ids = append(ids, channelIDs(asset.value)...)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	out := make([]*Property, 0, len(ids))
	for _, id := range ids {
		c, err := p.Property(dsonurl.Escape(id))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func channelIDs(v any) []string {
	list, _ := v.([]any)
	var ids []string
	for _, item := range list {
		m, _ := item.(map[string]any)
		if id, ok := m["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// AssetProperty returns the same path on the node's asset, or nil.
func (p *Property) AssetProperty() *Property {
	asset := p.node.Asset()
	if asset == nil {
		return nil
	}
	prop, ok := asset.Get(p.path)
	if !ok {
		return nil
	}
	return prop
}

// ParsedURL parses the value as a URL.
func (p *Property) ParsedURL() dsonurl.URL { return dsonurl.Parse(p.Str()) }

// ResolveURL resolves the value as a URL. URLs inside an asset are relative
// to the asset's file, so resolution starts at the source node.
func (p *Property) ResolveURL() (Resolved, error) { return p.source.ResolveURL(p.Str()) }

func (p *Property) ResolveNode() (*Node, error) { return p.source.ResolveNode(p.Str()) }

// Default returns the channel's default: "value" read from the asset when
// there is one, since instances overwrite "value" with their current value.
// Limits are not applied.
func (p *Property) Default() (any, bool) {
	src := p.AssetProperty()
	if src == nil {
		src = p
	}
	v := src.GetValue("value", nil)
	return v, v != nil
}

// ApplyLimits clamps v to min and max when the channel is clamped.
func (p *Property) ApplyLimits(v float64) float64 {
	if clamped, _ := p.GetValue("clamped", false).(bool); !clamped {
		return v
	}
	if lo, err := formula.ToFloat(p.GetValue("min", nil)); err == nil {
		v = max(v, lo)
	}
	if hi, err := formula.ToFloat(p.GetValue("max", nil)); err == nil {
		v = min(v, hi)
	}
	return v
}

// ValueWithDefault returns current_value, falling back to value.
func (p *Property) ValueWithDefault() (any, error) {
	if v := p.GetValue("current_value", nil); v != nil {
		return v, nil
	}
	prop, err := p.Property("value")
	if err != nil {
		return nil, err
	}
	return prop.value, nil
}

// IsDynamic reports whether optimized formulas keep reading this property.
func (p *Property) IsDynamic() bool { return p.node.env.IsPropertyDynamic(p) }

// IsModifier reports whether the property is on a modifier.
func (p *Property) IsModifier() bool { return p.node.IsModifier() }

// Label returns the "label" below this property, or "name".
func (p *Property) Label() (string, error) {
	return label(p.Get)
}

func label(get func(string) (*Property, bool)) (string, error) {
	if l, ok := get("label"); ok {
		return l.Str(), nil
	}
	if n, ok := get("name"); ok {
		return n.Str(), nil
	}
	return "", fmt.Errorf("no label or name: %w", ErrNodeNotFound)
}

// Property looks up a slash-separated path in the node's data, then in its
// asset's. Path segments are unescaped. The returned property's node is
// always n, even when the value came from the asset.
func (n *Node) Property(path string) (*Property, error) {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		parts[i] = dsonurl.Unescape(part)
	}
	p, err := n.propertyInSelf(path, parts, n)
	if err == nil {
		return p, nil
	}
	if asset := n.Asset(); asset != nil {
		if p, aerr := asset.propertyInSelf(path, parts, n); aerr == nil {
			return p, nil
		}
	}
	return nil, err
}

// Get is Property without the error detail.
func (n *Node) Get(path string) (*Property, bool) {
	p, err := n.Property(path)
	return p, err == nil
}

// Value returns the raw value at path, or def.
func (n *Node) Value(path string, def any) any {
	if p, ok := n.Get(path); ok {
		return p.value
	}
	return def
}

// Has reports whether path resolves on the node or its asset.
func (n *Node) Has(path string) bool {
	_, ok := n.Get(path)
	return ok
}

// Label returns the node's "label", or its "name".
func (n *Node) Label() (string, error) { return label(n.Get) }

// propertyInSelf walks parts through this node's data only. A leading
// "extra-type/<type>" pair selects the first extra with that type. "~N"
// indexes an array. In an object a segment matches a key, or the id of the
// object's channel. In an array it matches an element's type or its
// channel id.
func (n *Node) propertyInSelf(path string, parts []string, instance *Node) (*Property, error) {
	var cur any = n.data

	if len(parts) >= 2 && parts[0] == "extra-type" {
		want := parts[1]
		parts = parts[2:]
		extras, _ := n.data["extra"].([]any)
		cur = nil
		for _, e := range extras {
			if m, ok := e.(map[string]any); ok && m["type"] == want {
				cur = m
				break
			}
		}
		if cur == nil {
			return nil, notFound(n, path)
		}
	}

	for _, part := range parts {
		cur = step(cur, part)
		if cur == nil {
			return nil, notFound(n, path)
		}
	}
	return &Property{node: instance, source: n, path: path, value: cur}, nil
}

func step(cur any, part string) any {
	if strings.HasPrefix(part, "~") {
		idx, err := strconv.Atoi(part[1:])
		list, ok := cur.([]any)
		if err != nil || !ok || idx < 0 || idx >= len(list) {
			return nil
		}
		return list[idx]
	}
	switch x := cur.(type) {
	case map[string]any:
		if v, ok := x[part]; ok {
			return v
		}
		if ch, ok := x["channel"].(map[string]any); ok && ch["id"] == part {
			return ch
		}
	case []any:
		for _, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == part {
				return m
			}
			if ch, ok := m["channel"].(map[string]any); ok {
				m = ch
			}
			if m["id"] == part {
				return m
			}
		}
	}
	return nil
}
