// Package config loads the HCL configuration file.
//
//	cache_file = "/var/cache/dsongraph/cache.json"
//	log_level  = "info"
//	log_format = "text"
//
//	library {
//	  search_paths = ["/content/library"]
//	  pattern      = "*.dsf"
//	}
//
//	modifier "/data/fig/morphs/Smile.dsf#Smile" {
//	  dynamic        = true
//	  external_input = true
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/agentic-research/dsongraph/internal/cache"
	"github.com/agentic-research/dsongraph/internal/resolver"
)

// Config is the decoded configuration file.
type Config struct {
	CacheFile string      `hcl:"cache_file,optional"`
	LogLevel  string      `hcl:"log_level,optional"`
	LogFormat string      `hcl:"log_format,optional"`
	Library   *Library    `hcl:"library,block"`
	Modifiers []*Modifier `hcl:"modifier,block"`
}

// Library says where the content library is.
type Library struct {
	// SearchPaths are searched in order for asset files.
	SearchPaths []string `hcl:"search_paths,optional"`
	Pattern     string   `hcl:"pattern,optional"`
}

// Modifier overrides the policy for one modifier, named by asset URL.
type Modifier struct {
	URL           string `hcl:"url,label"`
	Dynamic       *bool  `hcl:"dynamic,optional"`
	ExternalInput bool   `hcl:"external_input,optional"`
}

// DefaultCacheFile is the cache location under the user cache directory,
// or in the working directory if there is none.
func DefaultCacheFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "dsongraph-cache.json"
	}
	return filepath.Join(dir, "dsongraph", "cache.json")
}

// Default is the configuration used without a file.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.CacheFile == "" {
		c.CacheFile = DefaultCacheFile()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Library == nil {
		c.Library = &Library{}
	}
	if c.Library.Pattern == "" {
		c.Library.Pattern = cache.DefaultPattern
	}
}

// Load reads the file at path. An empty path gives Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source. filename is only used in diagnostics.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, diags)
	}

	var c Config
	if diags := gohcl.DecodeBody(file.Body, nil, &c); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config %s: %w", filename, diags)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	c.setDefaults()
	return &c, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Modifiers))
	for _, m := range c.Modifiers {
		if m.URL == "" {
			return errors.New("modifier block with an empty URL")
		}
		if seen[m.URL] {
			return fmt.Errorf("modifier %q configured twice", m.URL)
		}
		seen[m.URL] = true
	}
	return nil
}

// SearchPaths opens each configured search path.
func (c *Config) SearchPaths() []billy.Filesystem {
	out := make([]billy.Filesystem, 0, len(c.Library.SearchPaths))
	for _, p := range c.Library.SearchPaths {
		out = append(out, osfs.New(p))
	}
	return out
}

// AssetConfig builds the resolver policy from the modifier blocks.
func (c *Config) AssetConfig() *resolver.AssetConfig {
	ac := resolver.NewAssetConfig()
	var external []string
	for _, m := range c.Modifiers {
		if m.Dynamic != nil {
			ac.SetDynamicURL(m.URL, *m.Dynamic)
		}
		if m.ExternalInput {
			external = append(external, m.URL)
		}
	}
	ac.SetModifiersWithExternalInputs(external)
	return ac
}
