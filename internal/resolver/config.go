package resolver

// AssetConfig is the caller's policy for which modifiers stay dynamic and
// which are driven from outside the formula network. Modifiers are keyed by
// asset URL. The zero value is not usable; call NewAssetConfig.
type AssetConfig struct {
	dynamic  map[string]bool
	external map[string]bool
}

func NewAssetConfig() *AssetConfig {
	return &AssetConfig{
		dynamic:  make(map[string]bool),
		external: make(map[string]bool),
	}
}

// SetDynamic overrides whether m is dynamic.
func (c *AssetConfig) SetDynamic(m *ModifierAsset, dynamic bool) {
	c.SetDynamicURL(m.AssetURL(), dynamic)
}

// SetDynamicURL is SetDynamic for a modifier that may not be resolved yet,
// such as one named in a configuration file.
func (c *AssetConfig) SetDynamicURL(url string, dynamic bool) {
	c.dynamic[url] = dynamic
}

// ClearDynamic removes any override for m.
func (c *AssetConfig) ClearDynamic(m *ModifierAsset) {
	delete(c.dynamic, m.AssetURL())
}

// Dynamic reports whether m is dynamic. Modifiers are static by default.
func (c *AssetConfig) Dynamic(m *ModifierAsset) bool {
	return c.dynamic[m.AssetURL()]
}

// SetModifiersWithExternalInputs replaces the set of modifiers that get an
// input from outside, in addition to visible ones.
func (c *AssetConfig) SetModifiersWithExternalInputs(urls []string) {
	c.external = make(map[string]bool, len(urls))
	for _, u := range urls {
		c.external[u] = true
	}
}

// ChannelHasExternalInputs reports whether m can change without any of its
// formula inputs changing. Visible channels get a user control, so they
// always can.
func (c *AssetConfig) ChannelHasExternalInputs(m *ModifierAsset) bool {
	return m.Visible() || c.external[m.AssetURL()]
}
