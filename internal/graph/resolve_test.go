package graph

import (
	"slices"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/dsongraph/internal/graph/graphtest"
)

func TestResolveURL(t *testing.T) {
	env, scene := loadFigureScene(t)
	figure := scene.Node("Figure")
	hip := scene.Node("hip")

	tests := []struct {
		name string
		raw  string
		node *Node
		prop string
	}{
		{"fragment in own file", "#hip", hip, ""},
		{"fragment with query", "#hip?rotation/y", hip, "rotation/y"},
		{"path and fragment", "/data/fig/Figure.dsf#hip", env.File(graphtest.FigurePath).Node("hip"), ""},
		{"scheme only", "Figure:", figure, ""},
		{"scheme names an asset id", "Figure:#thigh", scene.Node("thigh"), ""},
		{"scheme with path", "Figure:/data/fig/Figure.dsf#hip?rotation/x", hip, "rotation/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := figure.ResolveURL(tt.raw)
			require.NoError(t, err)
			assert.Same(t, tt.node, r.Node)
			assert.Equal(t, tt.prop != "", r.IsProperty())
			if tt.prop != "" {
				assert.Equal(t, tt.prop, r.Property.Path())
			}
		})
	}
}

func TestResolveURL_FragmentMatchesFullURL(t *testing.T) {
	env, scene := loadFigureScene(t)
	local := env.File(graphtest.FigurePath).Node("Figure")
	require.NotNil(t, local)

	fromFile, err := local.ResolveNode("#hip")
	require.NoError(t, err)
	fromScene, err := scene.Node("Figure").ResolveNode(graphtest.FigurePath + "#hip")
	require.NoError(t, err)
	assert.Same(t, fromFile, fromScene)
	assert.Equal(t, graphtest.FigurePath, fromFile.File().Path)
}

func TestFindNodeID_ShallowestWins(t *testing.T) {
	dir := t.TempDir()
	graphtest.Write(t, dir, map[string]string{
		"/a.dsf": `{"asset_info": {"id": "/a.dsf", "type": "figure"},
  "node_library": [{"id": "Root", "type": "figure"}, {"id": "B", "type": "node", "parent": "#Root"}]}`,
		"/deep.dsf": `{"asset_info": {"id": "/deep.dsf", "type": "node"},
  "node_library": [{"id": "X", "type": "node", "parent": "/a.dsf#B"}]}`,
		"/shallow.dsf": `{"asset_info": {"id": "/shallow.dsf", "type": "node"},
  "node_library": [{"id": "X", "type": "node", "parent": "/a.dsf#Root"}]}`,
	})
	env := NewEnvironment(WithSearchPaths(osfs.New(dir)))
	for _, p := range []string{"/a.dsf", "/deep.dsf", "/shallow.dsf"} {
		_, err := env.GetOrLoadFile(p)
		require.NoError(t, err)
	}
	a := env.File("/a.dsf")
	root := a.Node("Root")
	require.Equal(t, []string{"B", "X"}, childIDs(root))

	// A depth-first walk would reach the X below B first.
	found := root.FindNodeID("X")
	require.NotNil(t, found)
	assert.Equal(t, "/shallow.dsf", found.File().Path)
	assert.Same(t, found, a.FindNodeID("X"))

	r, err := a.Node("B").ResolveNode("#X")
	require.NoError(t, err)
	assert.Same(t, found, r, "the fragment is searched in the file, not below the context")
	assert.Same(t, a.Node("B"), a.FindNodeID("B"))
}

func TestResolveURL_Errors(t *testing.T) {
	_, scene := loadFigureScene(t)
	figure := scene.Node("Figure")

	_, err := figure.ResolveURL("/data/fig/Figure.dsf")
	assert.ErrorIs(t, err, ErrInvalidURL, "a bare path names no node")

	_, err = figure.ResolveURL("#nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = figure.ResolveURL("Nobody:#hip")
	var nf *NodeNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Msg, "scheme")

	_, err = figure.ResolveURL("/missing.dsf#x")
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = figure.ResolveNode("#hip?rotation")
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = figure.ResolveProperty("#hip")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestResolveModifierURL(t *testing.T) {
	env, scene := loadFigureScene(t)
	require.NoError(t, PrepareScene(env, false))
	figure := scene.Node("Figure")
	smile := scene.Node("Smile")

	r, err := figure.ResolveModifierURL("Figure:/data/fig/morphs/Smile.dsf#Smile?value", true)
	require.NoError(t, err)
	assert.Same(t, smile, r.Node)
	assert.Equal(t, "value", r.Property.Path())

	// Resolution starts at the top node, whichever descendant asks.
	r, err = scene.Node("thigh").ResolveModifierURL("#body_ctrl", false)
	require.NoError(t, err)
	assert.Equal(t, "body_ctrl", r.Node.AssetID())
	assert.True(t, r.Node.IsInstanced())

	_, err = figure.ResolveModifierURL("#Frown?value", false)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = env.File(graphtest.FigurePath).Node("Figure").ResolveModifierURL("#hip", false)
	assert.ErrorIs(t, err, ErrNotInstanced)
}

func TestResolveModifierURL_FollowsAlias(t *testing.T) {
	env, scene := loadFigureScene(t)
	_, err := env.GetOrLoadFile(graphtest.AliasPath)
	require.NoError(t, err)
	require.NoError(t, PrepareScene(env, false))

	figure := scene.Node("Figure")
	grin, err := figure.SearchInstanceWithAssetID("Grin")
	require.NoError(t, err)
	assert.Equal(t, "alias", grin.Value("channel/type", nil))

	r, err := figure.ResolveModifierURL("Figure:#Grin?value", false)
	require.NoError(t, err)
	assert.Same(t, scene.Node("Smile"), r.Node)
}

func TestResolveModifierURL_AliasCycle(t *testing.T) {
	env, scene := loadFigureScene(t)
	figure := scene.Node("Figure")
	f := env.CreateGeneratedFile()
	for _, pair := range [][2]string{{"LoopA", "LoopB"}, {"LoopB", "LoopA"}} {
		asset, err := f.addNode(map[string]any{
			"id":     pair[0],
			"parent": figure.AssetURL(),
			"channel": map[string]any{
				"id": "value", "type": "alias", "target_channel": "Figure:#" + pair[1] + "?value",
			},
		}, SourceModifier, env.Library().id, 0)
		require.NoError(t, err)
		_, err = asset.CreateInstanceForAsset(figure)
		require.NoError(t, err)
	}

	_, err := figure.ResolveModifierURL("#LoopA?value", false)
	assert.ErrorContains(t, err, "alias chain deeper than")
}

func TestFindAssetName(t *testing.T) {
	env, scene := loadFigureScene(t)
	require.NoError(t, PrepareScene(env, false))
	figure := scene.Node("Figure")

	n, err := figure.FindAssetName("Smile")
	require.NoError(t, err)
	assert.Same(t, scene.Node("Smile"), n)

	// The hair's own Smile is inside another top node.
	hair := scene.Node("Hair")
	n, err = hair.FindAssetName("Smile")
	require.NoError(t, err)
	assert.Equal(t, "HairSmile", n.AssetID())

	_, err = figure.FindDescendantWithName("Hair")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	n, err = figure.FindDescendantWithName("thigh")
	require.NoError(t, err)
	assert.Same(t, scene.Node("thigh"), n)
}

func TestTraversals(t *testing.T) {
	env, scene := loadFigureScene(t)
	require.NoError(t, PrepareScene(env, false))
	figure := scene.Node("Figure")

	var within []string
	for n := range figure.WithinFigure() {
		within = append(within, n.NodeID())
	}
	assert.Equal(t, "Figure", within[0])
	assert.Contains(t, within, "thigh")
	assert.Contains(t, within, "body_ctrl-1")
	assert.Contains(t, within, "FID_Figure")
	assert.NotContains(t, within, "Hair")
	assert.NotContains(t, within, "HairSmile-1")

	var bones []string
	for b := range figure.Bones() {
		bones = append(bones, b.NodeID())
	}
	assert.Equal(t, []string{"hip", "thigh"}, bones)

	thigh := scene.Node("thigh")
	assert.Same(t, scene.Node("hip"), thigh.AncestorBoneWithAssetID("hip"))
	assert.Nil(t, thigh.AncestorBoneWithAssetID("Figure"))

	var all []string
	for n := range env.DepthFirst() {
		all = append(all, n.NodeID())
	}
	assert.Less(t, slices.Index(all, "Figure"), slices.Index(all, "hip"))
	assert.Less(t, slices.Index(all, "hip"), slices.Index(all, "thigh"))
	assert.Less(t, slices.Index(all, "thigh"), slices.Index(all, "library"), "the library comes after the scene")

	var bonesOnly []string
	for n := range scene.Node("hip").BreadthFirstOfType(TypeBone) {
		bonesOnly = append(bonesOnly, n.NodeID())
	}
	assert.Equal(t, []string{"hip", "thigh"}, bonesOnly)
}
