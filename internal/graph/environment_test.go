package graph

import (
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/dsongraph/internal/graph/graphtest"
)

func loadFigureScene(t *testing.T) (*Environment, *File) {
	t.Helper()
	dir := t.TempDir()
	graphtest.Write(t, dir, graphtest.FigureLibrary)
	env := NewEnvironment(WithSearchPaths(osfs.New(dir)))
	scene, err := env.GetOrLoadFile(graphtest.ScenePath)
	require.NoError(t, err)
	return env, scene
}

func childIDs(n *Node) []string {
	var ids []string
	for _, c := range n.Children() {
		ids = append(ids, c.NodeID())
	}
	return ids
}

func TestEnvironment_LoadsSectionsAndReferencedFiles(t *testing.T) {
	env, scene := loadFigureScene(t)

	assert.Equal(t, "scene", scene.AssetType)
	for _, p := range []string{graphtest.FigurePath, graphtest.SmilePath, graphtest.HairPath} {
		assert.NotNil(t, env.File(p), p)
	}
	assert.Nil(t, env.File(graphtest.FrownPath), "unreferenced files stay unloaded")

	figure := scene.Node("Figure")
	require.NotNil(t, figure)
	assert.True(t, figure.IsInstanced())
	assert.Equal(t, TypeFigure, figure.Type(), "type is inherited from the asset")
	assert.Equal(t, "Figure", figure.AssetID())
	assert.Equal(t, env.Scene(), figure.Parent())
	assert.Equal(t, []string{"FigureGeo-1", "hip", "Hair", "Smile"}, childIDs(figure))

	asset := figure.Asset()
	require.NotNil(t, asset)
	assert.False(t, asset.IsInstanced())
	assert.Equal(t, "/data/fig/Figure.dsf#Figure", asset.URL())
	// The morph file parents its modifier under the figure asset.
	assert.Equal(t, []string{"hip", "body_ctrl", "Smile"}, childIDs(asset))

	hip := scene.Node("hip")
	require.NotNil(t, hip)
	assert.Equal(t, figure, hip.Parent())
	assert.Equal(t, TypeBone, hip.Type())
	assert.False(t, hip.IsTopNode())
	assert.Equal(t, figure, scene.Node("thigh").FindTopNode())
	assert.Equal(t, hip, figure.FindRootJoint())

	geo := figure.FirstGeometry()
	require.NotNil(t, geo)
	assert.Equal(t, SourceGeometry, geo.Source())
	skin := scene.Node("Skin")
	require.NotNil(t, skin)
	assert.Equal(t, map[string]NodeID{"Face": skin.ID(), "Body": skin.ID()}, geo.Materials())

	// The parent field is consumed so instances don't inherit it.
	assert.False(t, hip.Has("parent"))
	assert.False(t, asset.Children()[0].Has("parent"))
}

func TestEnvironment_GetOrLoadFileIsCaseInsensitiveAndCached(t *testing.T) {
	env, _ := loadFigureScene(t)

	a, err := env.GetOrLoadFile("DATA/Fig/figure.dsf")
	require.NoError(t, err)
	b, err := env.GetOrLoadFile(graphtest.FigurePath)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = env.GetOrLoadFile("/missing.dsf")
	var pnf *PathNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.ErrorIs(t, err, ErrPathNotFound)
	assert.Equal(t, "/missing.dsf", pnf.Path)

	f, err := env.TryLoadFile("/missing.dsf")
	assert.NoError(t, err)
	assert.Nil(t, f)
}

func TestEnvironment_SearchPathOrder(t *testing.T) {
	low, high := t.TempDir(), t.TempDir()
	graphtest.Write(t, low, map[string]string{"/a.dsf": `{"asset_info": {"type": "low"}}`})
	graphtest.Write(t, high, map[string]string{"/a.dsf": `{"asset_info": {"type": "high"}}`})

	env := NewEnvironment(WithSearchPaths(osfs.New(low)))
	env.AddSearchPath(osfs.New(high))
	f, err := env.GetOrLoadFile("a.dsf")
	require.NoError(t, err)
	assert.Equal(t, "high", f.AssetType)
	assert.Equal(t, "/a.dsf", f.Path, "a leading slash is added")
}

func TestEnvironment_GzipFiles(t *testing.T) {
	dir := t.TempDir()
	lib := make(map[string]string, len(graphtest.FigureLibrary))
	for k, v := range graphtest.FigureLibrary {
		lib[k] = v
	}
	delete(lib, graphtest.FigurePath)
	graphtest.Write(t, dir, lib)
	graphtest.WriteGzip(t, dir, graphtest.FigurePath, graphtest.FigureLibrary[graphtest.FigurePath])

	env := NewEnvironment(WithSearchPaths(osfs.New(dir)))
	scene, err := env.GetOrLoadFile(graphtest.ScenePath)
	require.NoError(t, err)
	assert.Equal(t, "Figure", scene.Node("Figure").AssetID())
}

func TestEnvironment_LoadUserScene(t *testing.T) {
	dir := t.TempDir()
	graphtest.Write(t, dir, graphtest.FigureLibrary)
	env := NewEnvironment(WithSearchPaths(osfs.New(dir)))

	abs := filepath.Join(dir, "scene.duf")
	f, err := env.LoadUserScene(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, f.Path)

	again, err := env.LoadUserScene(abs)
	require.NoError(t, err)
	assert.Same(t, f, again)
}

func TestEnvironment_DuplicateIDRollsBack(t *testing.T) {
	dir := t.TempDir()
	graphtest.Write(t, dir, graphtest.FigureLibrary)
	graphtest.Write(t, dir, map[string]string{"/bad.dsf": `{
  "asset_info": {"type": "modifier"},
  "modifier_library": [
    {"id": "M", "parent": "/data/fig/Figure.dsf#Figure", "channel": {"id": "value", "value": 0}},
    {"id": "M", "parent": "/data/fig/Figure.dsf#Figure", "channel": {"id": "value", "value": 0}}
  ]
}`})
	env := NewEnvironment(WithSearchPaths(osfs.New(dir)))
	fig, err := env.GetOrLoadFile(graphtest.FigurePath)
	require.NoError(t, err)
	before := childIDs(fig.Node("Figure"))

	_, err = env.GetOrLoadFile("/bad.dsf")
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Nil(t, env.File("/bad.dsf"))
	assert.Equal(t, before, childIDs(fig.Node("Figure")), "partially loaded nodes are detached")
}

func TestEnvironment_UnloadFile(t *testing.T) {
	env, _ := loadFigureScene(t)
	asset := env.File(graphtest.FigurePath).Node("Figure")
	smile := env.File(graphtest.SmilePath)
	require.NotNil(t, smile)
	assert.Equal(t, 1, smile.NumMembers())

	assert.True(t, env.UnloadFile(graphtest.SmilePath))
	assert.False(t, env.UnloadFile(graphtest.SmilePath))
	assert.Nil(t, env.File(graphtest.SmilePath))
	assert.Equal(t, []string{"hip", "body_ctrl"}, childIDs(asset))
}

func TestEnvironment_UniqueID(t *testing.T) {
	env, _ := loadFigureScene(t)

	assert.Equal(t, "hip-1", env.UniqueID("hip"))
	assert.Equal(t, "FigureGeo-2", env.UniqueID("FigureGeo"))
	assert.Equal(t, "FigureGeo-2", env.UniqueID("FigureGeo-7"), "the suffix of the base is dropped")
}

func TestEnvironment_CreateGeneratedFile(t *testing.T) {
	env := NewEnvironment()
	a := env.CreateGeneratedFile()
	b := env.CreateGeneratedFile()
	assert.Equal(t, "/~internal/0.dsf", a.Path)
	assert.Equal(t, "/~internal/1.dsf", b.Path)
	assert.Equal(t, "scene", a.AssetType)
	assert.Same(t, b, env.File("/~INTERNAL/1.dsf"))
}
