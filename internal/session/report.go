package session

import (
	"maps"
	"slices"

	"github.com/agentic-research/dsongraph/internal/resolver"
)

// Summary is an Analysis reduced to sorted modifier URLs, for printing.
type Summary struct {
	Scene               string   `json:"scene"`
	Figures             []string `json:"figures"`
	Used                []string `json:"used"`
	Unused              []string `json:"unused"`
	Unavailable         []string `json:"unavailable"`
	AvailableForDynamic []string `json:"available_for_dynamic"`
	Dynamic             []string `json:"dynamic"`
	Favorites           []string `json:"favorites"`
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// Summary reduces a to modifier URLs.
func (a *Analysis) Summary() Summary {
	figures := make([]string, len(a.Figures))
	for i, n := range a.Figures {
		figures[i] = n.NodeID()
	}
	res := a.Results
	return Summary{
		Scene:               a.Scene.Path,
		Figures:             figures,
		Used:                sortedKeys(res.Used),
		Unused:              sortedKeys(res.Unused),
		Unavailable:         sortedKeys(res.Unavailable),
		AvailableForDynamic: sortedKeys(res.AvailableForDynamic),
		Dynamic:             sortedKeys(res.Dynamic),
		Favorites:           a.Favorites,
	}
}

// ModifierReport describes one classified modifier.
type ModifierReport struct {
	URL         string   `json:"url"`
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Label       string   `json:"label"`
	Group       string   `json:"group,omitempty"`
	File        string   `json:"file"`
	Parent      string   `json:"parent"`
	Instance    string   `json:"instance"`
	ChannelType string   `json:"channel_type"`
	Visible     bool     `json:"visible"`
	AutoFollow  bool     `json:"auto_follow,omitempty"`
	Status      string   `json:"status"`
	StaticValue float64  `json:"static_value"`
	Dynamic     bool     `json:"dynamic"`
	Formulas    int      `json:"formulas"`
	Required    []string `json:"required,omitempty"`
	RequiredBy  []string `json:"required_by,omitempty"`
}

func (a *Analysis) report(m *resolver.ModifierAsset) ModifierReport {
	url := m.AssetURL()
	return ModifierReport{
		URL:         url,
		ID:          m.Info.ID,
		Name:        m.Info.Name,
		Label:       m.Label(),
		Group:       m.Group(),
		File:        m.RelativePath(),
		Parent:      m.Info.Parent,
		Instance:    m.Instance.NodeID(),
		ChannelType: m.ChannelType(),
		Visible:     m.Visible(),
		AutoFollow:  m.AutoFollow(),
		Status:      a.Results.Status(m),
		StaticValue: a.Results.StaticValues[m],
		Dynamic:     a.Results.Dynamic[url],
		Formulas:    len(m.Formulas()),
		Required:    a.Resolver.ModifiersRequired(url),
		RequiredBy:  a.Resolver.ModifiersRequiredBy(url),
	}
}

// Modifier describes the classified modifier at url.
func (a *Analysis) Modifier(url string) (ModifierReport, bool) {
	m := a.Results.All[url]
	if m == nil {
		return ModifierReport{}, false
	}
	return a.report(m), true
}

// Search describes the classified modifiers whose labels or id contain
// query, ignoring case, ordered by URL.
func (a *Analysis) Search(query string) []ModifierReport {
	var out []ModifierReport
	for _, url := range sortedKeys(a.Results.All) {
		if m := a.Results.All[url]; m.SubstringMatches(query) {
			out = append(out, a.report(m))
		}
	}
	return out
}
