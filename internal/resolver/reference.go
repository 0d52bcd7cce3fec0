package resolver

import (
	"strings"

	"github.com/jinzhu/copier"

	"github.com/agentic-research/dsongraph/api"
	"github.com/agentic-research/dsongraph/internal/formula"
	"github.com/agentic-research/dsongraph/internal/graph"
)

// Reference is anything a formula reads or writes: a modifier known from
// the cache, or some other property such as a joint rotation. References
// compare by identity.
type Reference interface {
	formula.Ref
	// AssetURL is the modifier's URL, or "" for non-modifier references.
	AssetURL() string
}

// NonModifierReference is a formula input or output that isn't a cached
// modifier.
type NonModifierReference struct {
	URL string
}

func (r *NonModifierReference) AssetURL() string { return "" }
func (r *NonModifierReference) String() string   { return "NonModifierReference(" + r.URL + ")" }

// ModifierAsset is a cached modifier bound to the instance it would attach
// to. It need not be instanced in the scene.
type ModifierAsset struct {
	Info *api.ModifierInfo
	File *api.FileInfo

	// Instance is the node named by the modifier's parent.
	Instance *graph.Node

	formulas []*formula.Formula
}

// newModifierAsset copies info, since auto_follow formulas are appended to
// it and the cache entry is shared.
func newModifierAsset(info *api.ModifierInfo, file *api.FileInfo, instance *graph.Node) (*ModifierAsset, error) {
	var own api.ModifierInfo
	if err := copier.CopyWithOption(&own, info, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	return &ModifierAsset{Info: &own, File: file, Instance: instance}, nil
}

func (m *ModifierAsset) AssetURL() string { return m.Info.URL }
func (m *ModifierAsset) String() string   { return "ModifierAsset(" + m.Info.ID + ")" }

// AbsolutePath is the modifier's file on disk.
func (m *ModifierAsset) AbsolutePath() string { return m.File.AbsolutePath }

// RelativePath is the modifier's file within the search path.
func (m *ModifierAsset) RelativePath() string { return m.File.RelativePath }

// Formulas are the modifier's formulas with every URL replaced by a
// Reference, constants folded.
func (m *ModifierAsset) Formulas() []*formula.Formula { return m.formulas }

func (m *ModifierAsset) channelString(key string) string {
	s, _ := m.Info.Channel[key].(string)
	return s
}

// ChannelType is channel/type, such as "float" or "alias".
func (m *ModifierAsset) ChannelType() string { return m.channelString("type") }

func (m *ModifierAsset) IsAlias() bool { return m.ChannelType() == "alias" }

// Visible is channel/visible, true when unset.
func (m *ModifierAsset) Visible() bool {
	v, ok := m.Info.Channel["visible"].(bool)
	return !ok || v
}

// AutoFollow reports channel/auto_follow.
func (m *ModifierAsset) AutoFollow() bool {
	v, _ := m.Info.Channel["auto_follow"].(bool)
	return v
}

// Label is the presentation label, the channel label or the id, whichever
// is set first.
func (m *ModifierAsset) Label() string {
	if m.Info.PresentationLabel != "" {
		return m.Info.PresentationLabel
	}
	if l := m.channelString("label"); l != "" {
		return l
	}
	return m.Info.ID
}

func (m *ModifierAsset) Group() string { return m.Info.Group }

// SubstringMatches reports whether s occurs, ignoring case, in the
// presentation label, the channel label or the id.
func (m *ModifierAsset) SubstringMatches(s string) bool {
	s = strings.ToLower(s)
	for _, field := range []string{m.Info.PresentationLabel, m.channelString("label"), m.Info.ID} {
		if field != "" && strings.Contains(strings.ToLower(field), s) {
			return true
		}
	}
	return false
}

// IsFigureMorph reports modifiers that look like they reshape the figure
// itself. These are usually left static, since skeleton alignment isn't
// rigged.
func (m *ModifierAsset) IsFigureMorph() bool {
	switch m.Info.PresentationType {
	case "Modifier/Clone":
		return true
	case "Modifier/Shape":
		return m.Visible()
	}
	return false
}

// IsCorrectiveMorph reports corrective modifiers. Correctives are sometimes
// marked as shapes; those are told apart by being hidden.
func (m *ModifierAsset) IsCorrectiveMorph() bool {
	switch m.Info.PresentationType {
	case "Modifier/Corrective":
		return true
	case "Modifier/Shape":
		return !m.Visible()
	}
	return false
}
