// Package graphtest writes small content libraries for tests.
package graphtest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// Write creates each file under dir. Keys are library-relative paths.
func Write(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

// WriteGzip writes a gzip-compressed file under dir.
func WriteGzip(t testing.TB, dir, rel, body string) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
}

// Paths of the figure library.
const (
	FigurePath = "/data/fig/Figure.dsf"
	SmilePath  = "/data/fig/morphs/Smile.dsf"
	FrownPath  = "/data/fig/morphs/Frown.dsf"
	FixPath    = "/data/fig/morphs/SmileFix.dsf"
	AliasPath  = "/data/fig/morphs/Grin.dsf"
	HairPath   = "/data/hair/Hair.dsf"
	FollowPath = "/data/hair/morphs/HairSmile.dsf"
	ScenePath  = "/scene.duf"
)

// FigureLibrary is a figure with a skeleton, geometry, a material, a body
// control and morph files, plus a hair figure conforming to it. The scene
// dials Smile to 0.8 and leaves everything else at its default.
//
//   - body_ctrl (figure file): value += Smile * 0.5
//   - Smile: dialled to 0.8
//   - Frown: visible, default 0, no formulas
//   - SmileFix: hidden corrective, value = Smile, multiplied by Frown
//   - Grin: alias of Smile
//   - HairSmile (hair file) and Smile (hair morph file): auto_follow
var FigureLibrary = map[string]string{
	FigurePath: `{
  "asset_info": {"id": "/data/fig/Figure.dsf", "type": "figure", "revision": "1.0"},
  "geometry_library": [{"id": "FigureGeo", "name": "FigureGeo"}],
  "node_library": [
    {"id": "Figure", "name": "Figure", "type": "figure", "label": "The Figure",
     "extra": [{"type": "studio/node/figure_info", "presentation": {"label": "Fig"}}]},
    {"id": "hip", "name": "hip", "type": "bone", "parent": "#Figure",
     "rotation": [{"id": "x", "value": 0}, {"id": "y", "value": 5}, {"id": "z", "value": 0}]},
    {"id": "thigh", "name": "thigh", "type": "bone", "parent": "#hip",
     "rotation": [{"id": "x", "value": 0, "min": -10, "max": 10, "clamped": true}]}
  ],
  "modifier_library": [
    {"id": "body_ctrl", "name": "body_ctrl", "parent": "#Figure",
     "channel": {"id": "value", "type": "float", "value": 0, "min": 0, "max": 1, "clamped": true},
     "formulas": [
       {"output": "Figure:#body_ctrl?value",
        "operations": [{"op": "push", "url": "Figure:/data/fig/morphs/Smile.dsf#Smile?value"}, {"op": "push", "val": 0.5}, {"op": "mult"}]}
     ]}
  ],
  "material_library": [{"id": "Skin", "name": "Skin"}]
}`,
	SmilePath: `{
  "asset_info": {"id": "/data/fig/morphs/Smile.dsf", "type": "modifier", "revision": "1.0"},
  "modifier_library": [
    {"id": "Smile", "name": "Smile", "parent": "/data/fig/Figure.dsf#Figure", "group": "/Head/Mouth",
     "presentation": {"type": "Modifier/Pose", "label": "Smile Wide"},
     "channel": {"id": "value", "type": "float", "label": "Smile", "value": 0, "min": 0, "max": 1, "clamped": true}}
  ],
  "scene": {"modifiers": [{"id": "Smile-1", "url": "#Smile"}]}
}`,
	FrownPath: `{
  "asset_info": {"id": "/data/fig/morphs/Frown.dsf", "type": "modifier", "revision": "1.0"},
  "modifier_library": [
    {"id": "Frown", "name": "Frown", "parent": "/data/fig/Figure.dsf#Figure", "region": "Head",
     "presentation": {"type": "Modifier/Shape", "label": "Frown"},
     "channel": {"id": "value", "type": "float", "value": 0, "min": 0, "max": 1, "clamped": true}}
  ]
}`,
	FixPath: `{
  "asset_info": {"id": "/data/fig/morphs/SmileFix.dsf", "type": "modifier", "revision": "1.0"},
  "modifier_library": [
    {"id": "SmileFix", "name": "SmileFix", "parent": "/data/fig/Figure.dsf#Figure",
     "presentation": {"type": "Modifier/Shape"},
     "channel": {"id": "value", "type": "float", "value": 0, "visible": false},
     "formulas": [
       {"output": "Figure:#SmileFix?value",
        "operations": [{"op": "push", "url": "Figure:/data/fig/morphs/Smile.dsf#Smile?value"}]},
       {"output": "Figure:#SmileFix?value", "stage": "mult",
        "operations": [{"op": "push", "url": "Figure:/data/fig/morphs/Frown.dsf#Frown?value"}]}
     ]}
  ]
}`,
	AliasPath: `{
  "asset_info": {"id": "/data/fig/morphs/Grin.dsf", "type": "modifier", "revision": "1.0"},
  "modifier_library": [
    {"id": "Grin", "name": "Grin", "parent": "/data/fig/Figure.dsf#Figure",
     "channel": {"id": "value", "type": "alias", "value": 0,
                 "target_channel": "Figure:/data/fig/morphs/Smile.dsf#Smile?value"}}
  ]
}`,
	HairPath: `{
  "asset_info": {"id": "/data/hair/Hair.dsf", "type": "figure", "revision": "1.0"},
  "node_library": [{"id": "Hair", "name": "Hair", "type": "figure"}],
  "modifier_library": [
    {"id": "HairSmile", "name": "Smile", "parent": "#Hair",
     "channel": {"id": "value", "type": "float", "value": 0, "auto_follow": true}}
  ]
}`,
	FollowPath: `{
  "asset_info": {"id": "/data/hair/morphs/HairSmile.dsf", "type": "modifier", "revision": "1.0"},
  "modifier_library": [
    {"id": "Smile", "name": "Smile", "parent": "/data/hair/Hair.dsf#Hair",
     "channel": {"id": "value", "type": "float", "value": 0, "visible": false, "auto_follow": true}}
  ]
}`,
	ScenePath: `{
  "asset_info": {"id": "/scene.duf", "type": "scene", "revision": "1.0"},
  "scene": {
    "nodes": [
      {"id": "Figure", "url": "/data/fig/Figure.dsf#Figure",
       "geometries": [{"id": "FigureGeo-1", "url": "/data/fig/Figure.dsf#FigureGeo"}],
       "extra": [{"type": "studio_node_channels", "favorites": ["Smile/Value", "Frown", 7]}]},
      {"id": "hip", "url": "/data/fig/Figure.dsf#hip", "parent": "#Figure",
       "rotation": [{"id": "x", "current_value": 10}]},
      {"id": "thigh", "url": "/data/fig/Figure.dsf#thigh", "parent": "#hip",
       "rotation": [{"id": "x", "current_value": 40}]},
      {"id": "Hair", "url": "/data/hair/Hair.dsf#Hair", "parent": "#Figure", "conform_target": "#Figure"}
    ],
    "modifiers": [
      {"id": "Smile", "url": "/data/fig/morphs/Smile.dsf#Smile", "parent": "#Figure",
       "channel": {"id": "value", "current_value": 0.8}}
    ],
    "materials": [
      {"id": "Skin", "url": "/data/fig/Figure.dsf#Skin", "geometry": "#FigureGeo-1", "groups": ["Face", "Body"]}
    ]
  }
}`,
}
