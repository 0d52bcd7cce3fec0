// Package api defines the persisted modifier index.
package api

// CacheFile is the root of the cache document. It is rewritten in full on
// every save.
type CacheFile struct {
	// InfoPerFile maps a library-relative path, such as
	// "/data/fig/morphs/Smile.dsf", to what the last scan found in it.
	InfoPerFile map[string]*FileInfo `json:"info_per_file"`
}

// FileInfo is the index entry for one asset file. Files that hold no
// modifiers still get an entry, so an unchanged file can be skipped by
// comparing LastMtime alone.
type FileInfo struct {
	// Modifiers are keyed by channel path, "<id>?<channel id>".
	Modifiers    map[string]*ModifierInfo `json:"modifiers"`
	LastMtime    int64                    `json:"last_mtime"` // UnixNano
	RelativePath string                   `json:"relative_path"`
	AbsolutePath string                   `json:"absolute_path"`
}

// ModifierInfo is what the index keeps about one modifier_library entry.
type ModifierInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	// URL is "<relative path>#<id>", escaped.
	URL string `json:"url"`
	// ChannelPath is "<id>?<channel id>"; appended to the file path after
	// "#" it gives ChannelURL.
	ChannelPath string `json:"channel_path"`
	ChannelURL  string `json:"channel_url"`

	// Keys are the entry's top-level keys, sorted, e.g. "formulas", "morph".
	Keys   []string `json:"keys"`
	Group  string   `json:"group"`
	Region string   `json:"region,omitempty"`
	// Parent is the absolute URL of the asset the modifier applies to.
	Parent string `json:"parent"`

	// Formulas with every URL made absolute: "/path#id?channel".
	Formulas []Formula      `json:"formulas"`
	Channel  map[string]any `json:"channel"`

	PresentationType  string `json:"presentation_type"`
	PresentationLabel string `json:"presentation_label"`

	// TargetChannel is set for alias channels.
	TargetChannel string `json:"target_channel,omitempty"`

	// ModifierDependencies maps the output of each mult-stage formula to
	// the inputs it reads.
	ModifierDependencies map[string][]string `json:"modifier_dependencies"`
}

// Formula is a formula as written in an asset file.
type Formula struct {
	Output     string      `json:"output"`
	Stage      string      `json:"stage,omitempty"`
	Operations []Operation `json:"operations"`
}

// Operation is one formula step. Push operations carry either URL or Val.
type Operation struct {
	Op  string `json:"op"`
	URL string `json:"url,omitempty"`
	Val any    `json:"val,omitempty"`
}
