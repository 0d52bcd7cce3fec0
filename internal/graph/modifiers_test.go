package graph

import (
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/dsongraph/internal/formula"
	"github.com/agentic-research/dsongraph/internal/graph/graphtest"
)

func preparedScene(t *testing.T, optimize bool, opts ...func(*Environment)) (*Environment, *File) {
	t.Helper()
	env, scene := loadFigureScene(t)
	for _, o := range opts {
		o(env)
	}
	require.NoError(t, PrepareScene(env, optimize))
	return env, scene
}

func evaluate(t *testing.T, n *Node, path string, opts EvalOptions) float64 {
	t.Helper()
	p, err := n.Property(path)
	require.NoError(t, err)
	v, err := p.Evaluate(opts)
	require.NoError(t, err)
	return v
}

func TestPrepareScene_InstancesAssetChildren(t *testing.T) {
	env, scene := preparedScene(t, false)
	figure := scene.Node("Figure")

	ctrl := scene.Node("body_ctrl-1")
	require.NotNil(t, ctrl, "the figure's modifier is instanced under it")
	assert.Same(t, figure, ctrl.Parent())
	assert.Equal(t, "body_ctrl", ctrl.AssetID())

	hairSmile := scene.Node("HairSmile-1")
	require.NotNil(t, hairSmile)
	assert.Same(t, scene.Node("Hair"), hairSmile.Parent())

	// Explicitly instanced children are not duplicated.
	assert.Nil(t, scene.Node("hip-1"))
	assert.Nil(t, scene.Node("Smile-1"))

	fid, err := figure.SearchInstanceWithAssetID("FID_Figure-1")
	require.NoError(t, err)
	assert.Equal(t, "FID_Figure", fid.NodeID())
	assert.Equal(t, "Figure ID", fid.Value("group", nil))
	assert.Equal(t, 1.0, evaluate(t, fid, "value", EvalOptions{}))

	_, err = scene.Node("Hair").SearchInstanceWithAssetID("FID_Hair-1")
	assert.NoError(t, err)
	assert.NotNil(t, env.File("/~internal/0.dsf"))
}

func TestPrepareScene_Evaluate(t *testing.T) {
	_, scene := preparedScene(t, false)

	ctrl := scene.Node("body_ctrl-1")
	assert.InDelta(t, 0.4, evaluate(t, ctrl, "value", EvalOptions{}), 1e-9)
	assert.InDelta(t, 0, evaluate(t, ctrl, "value", EvalOptions{UseDefaultValues: true}), 1e-9)
	assert.InDelta(t, 0, evaluate(t, ctrl, "value", EvalOptions{WithoutModifiers: true}), 1e-9)
	assert.InDelta(t, 0.4, evaluate(t, ctrl, "value", EvalOptions{SkipConstantValue: true}), 1e-9)

	assert.InDelta(t, 0.8, evaluate(t, scene.Node("Smile"), "value", EvalOptions{}), 1e-9)
	assert.Equal(t, 10.0, evaluate(t, scene.Node("thigh"), "rotation/x", EvalOptions{}), "clamped")

	rot, err := scene.Node("hip").Property("rotation")
	require.NoError(t, err)
	v, err := rot.Vec3(EvalOptions{})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{10, 5, 0}, v)

	_, err = rot.Vec3(EvalOptions{WithoutModifiers: true, UseDefaultValues: true})
	assert.Error(t, err)
}

func TestPrepareScene_AutoFollow(t *testing.T) {
	_, scene := preparedScene(t, false)
	hairSmile := scene.Node("HairSmile-1")

	assert.True(t, hairSmile.HasModifierDependants("value"))
	require.Len(t, hairSmile.Formulas["value"], 1)
	assert.InDelta(t, 0.8, evaluate(t, hairSmile, "value", EvalOptions{}), 1e-9)
	assert.False(t, scene.Node("Smile").HasModifierDependants())
}

func TestPrepareScene_MissingInputSkipsFormula(t *testing.T) {
	dir := t.TempDir()
	graphtest.Write(t, dir, graphtest.FigureLibrary)
	// SmileFix reads Frown, which no file provides here.
	graphtest.Write(t, dir, map[string]string{graphtest.FrownPath: `{"asset_info": {"type": "modifier"}}`})
	env := NewEnvironment(WithSearchPaths(osfs.New(dir)))
	scene, err := env.GetOrLoadFile(graphtest.ScenePath)
	require.NoError(t, err)
	_, err = env.GetOrLoadFile(graphtest.FixPath)
	require.NoError(t, err)

	require.NoError(t, PrepareScene(env, false))
	fix, err := scene.Node("Figure").SearchInstanceWithAssetID("SmileFix")
	require.NoError(t, err)
	require.Len(t, fix.Formulas["value"], 1, "the mult formula was dropped")
	assert.InDelta(t, 0.8, evaluate(t, fix, "value", EvalOptions{}), 1e-9)
}

func TestPrepareScene_LoadsFormulaDependencies(t *testing.T) {
	env, scene := loadFigureScene(t)
	_, err := env.GetOrLoadFile(graphtest.FixPath)
	require.NoError(t, err)
	require.Nil(t, env.File(graphtest.FrownPath))

	require.NoError(t, PrepareScene(env, false))
	assert.NotNil(t, env.File(graphtest.FrownPath), "loaded for SmileFix's mult input")

	fix, err := scene.Node("Figure").SearchInstanceWithAssetID("SmileFix")
	require.NoError(t, err)
	require.Len(t, fix.Formulas["value"], 2)
	// Frown sits at zero, so the mult stage zeroes the fix.
	assert.InDelta(t, 0, evaluate(t, fix, "value", EvalOptions{}), 1e-9)
}

func TestOptimizeAllModifiers_BakesStaticInputs(t *testing.T) {
	static := func(e *Environment) {
		e.SetDynamicPolicy(DynamicPolicyFunc(func(*Property) bool { return false }))
	}
	_, scene := preparedScene(t, true, static)
	ctrl := scene.Node("body_ctrl-1")

	list := ctrl.Formulas["value"]
	require.Len(t, list, 1)
	c, ok := list[0].ConstantScalar()
	require.True(t, ok)
	assert.InDelta(t, 0.4, c, 1e-9)
	// Baked inputs no longer follow the default-value mode.
	assert.InDelta(t, 0.4, evaluate(t, ctrl, "value", EvalOptions{UseDefaultValues: true}), 1e-9)

	_, scene = preparedScene(t, true)
	assert.False(t, scene.Node("body_ctrl-1").Formulas["value"][0].IsConstant(), "dynamic inputs stay")
}

func TestEvaluate_Cycle(t *testing.T) {
	_, scene := preparedScene(t, false)
	ctrl, err := scene.Node("body_ctrl-1").Property("value")
	require.NoError(t, err)
	smile, err := scene.Node("Smile").Property("value")
	require.NoError(t, err)

	CreateFormula("loop", smile, []formula.Operation{formula.PushRef(ctrl.Ref())}, formula.StageSum)
	_, err = ctrl.Evaluate(EvalOptions{})
	assert.ErrorIs(t, err, ErrEvaluationCycle)
}

func TestCreateFormulaFromModifier_Errors(t *testing.T) {
	env, scene := preparedScene(t, false)
	figure := scene.Node("Figure")
	f := env.CreateGeneratedFile()
	n, err := f.addNode(map[string]any{
		"id": "broken",
		"formulas": []any{
			map[string]any{"output": "Figure:#body_ctrl", "operations": []any{}},
			map[string]any{"output": "Figure:#body_ctrl?value", "operations": []any{map[string]any{"op": "sqrt"}}},
			map[string]any{"output": "Figure:#body_ctrl?value", "operations": []any{map[string]any{"op": "push"}}},
			map[string]any{"output": "Figure:#body_ctrl?value", "stage": "div", "operations": []any{}},
		},
	}, SourceModifier, env.Scene().id, figure.ID())
	require.NoError(t, err)
	list, err := n.Property("formulas")
	require.NoError(t, err)
	fps := list.ArrayChildren()

	_, err = CreateFormulaFromModifier(figure, fps[0])
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = CreateFormulaFromModifier(figure, fps[1])
	assert.ErrorIs(t, err, formula.ErrUnsupportedOp)
	_, err = CreateFormulaFromModifier(figure, fps[2])
	assert.ErrorIs(t, err, formula.ErrUnsupportedOperand)
	_, err = CreateFormulaFromModifier(figure, fps[3])
	assert.Error(t, err)
}

func TestNodeDelete(t *testing.T) {
	_, scene := preparedScene(t, false)
	figure := scene.Node("Figure")
	smile := scene.Node("Smile")

	require.NoError(t, smile.Delete())
	assert.Nil(t, scene.Node("Smile"))
	assert.NotContains(t, childIDs(figure), "Smile")
	assert.Error(t, smile.Delete())
}
