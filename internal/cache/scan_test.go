package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/dsongraph/api"
	"github.com/agentic-research/dsongraph/internal/graph/graphtest"
)

func TestScan_IndexesModifierFiles(t *testing.T) {
	dir, path := figureLibrary(t)
	c, stats := scanned(t, dir, path)

	assert.Equal(t, Stats{Files: 7, Parsed: 7, Saved: true}, stats)
	files := c.InfoPerFile()
	assert.Len(t, files, 7)
	assert.NotContains(t, files, graphtest.ScenePath, "only .dsf files are indexed")
	assert.Equal(t, 5, c.NumModifiers())

	// Files that aren't modifier assets get an empty entry.
	for _, p := range []string{graphtest.FigurePath, graphtest.HairPath} {
		require.Contains(t, files, p)
		assert.Empty(t, files[p].Modifiers, p)
	}

	smile := files[graphtest.SmilePath]
	require.NotNil(t, smile)
	assert.Equal(t, graphtest.SmilePath, smile.RelativePath)
	assert.Equal(t, filepath.ToSlash(filepath.Join(dir, "data/fig/morphs/Smile.dsf")), smile.AbsolutePath)
	assert.NotZero(t, smile.LastMtime)

	m := smile.Modifiers["Smile?value"]
	require.NotNil(t, m)
	assert.Equal(t, "Smile", m.ID)
	assert.Equal(t, "Smile", m.Name)
	assert.Equal(t, "/data/fig/morphs/Smile.dsf#Smile", m.URL)
	assert.Equal(t, "/data/fig/morphs/Smile.dsf#Smile?value", m.ChannelURL)
	assert.Equal(t, "/data/fig/Figure.dsf#Figure", m.Parent)
	assert.Equal(t, "/Head/Mouth", m.Group)
	assert.Equal(t, "Modifier/Pose", m.PresentationType)
	assert.Equal(t, "Smile Wide", m.PresentationLabel)
	assert.Equal(t, []string{"channel", "group", "id", "name", "parent", "presentation"}, m.Keys)
	assert.Equal(t, "Smile", m.Channel["label"])
	assert.Empty(t, m.Formulas)
	assert.Empty(t, m.ModifierDependencies)

	frown := files[graphtest.FrownPath].Modifiers["Frown?value"]
	require.NotNil(t, frown)
	assert.Equal(t, "Head", frown.Region)
	assert.Equal(t, "", frown.Group)
}

func TestScan_NormalizesFormulaURLs(t *testing.T) {
	dir, path := figureLibrary(t)
	c, _ := scanned(t, dir, path)

	fix := c.InfoPerFile()[graphtest.FixPath].Modifiers["SmileFix?value"]
	require.NotNil(t, fix)
	assert.Equal(t, []api.Formula{
		{
			Output:     "/data/fig/morphs/SmileFix.dsf#SmileFix?value",
			Operations: []api.Operation{{Op: "push", URL: "/data/fig/morphs/Smile.dsf#Smile?value"}},
		},
		{
			Output:     "/data/fig/morphs/SmileFix.dsf#SmileFix?value",
			Stage:      "mult",
			Operations: []api.Operation{{Op: "push", URL: "/data/fig/morphs/Frown.dsf#Frown?value"}},
		},
	}, fix.Formulas)
	assert.Equal(t, map[string][]string{
		"/data/fig/morphs/SmileFix.dsf#SmileFix?value": {"/data/fig/morphs/Frown.dsf#Frown?value"},
	}, fix.ModifierDependencies)

	grin := c.InfoPerFile()[graphtest.AliasPath].Modifiers["Grin?value"]
	require.NotNil(t, grin)
	assert.Equal(t, "Figure:/data/fig/morphs/Smile.dsf#Smile?value", grin.TargetChannel)
}

func TestScan_SkipsUnchangedFiles(t *testing.T) {
	dir, path := figureLibrary(t)
	scanned(t, dir, path)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, stats := scanned(t, dir, path)
	assert.Equal(t, Stats{Files: 7, Unchanged: 7}, stats)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestScan_ReparsesOnMtimeChange(t *testing.T) {
	dir, path := figureLibrary(t)
	scanned(t, dir, path)

	later := time.Now().Add(time.Hour)
	p := filepath.Join(dir, filepath.FromSlash(graphtest.FrownPath))
	require.NoError(t, os.Chtimes(p, later, later))

	c, stats := scanned(t, dir, path)
	assert.Equal(t, 1, stats.Parsed)
	assert.Equal(t, 6, stats.Unchanged)
	assert.True(t, stats.Saved)
	assert.Equal(t, later.Unix(), time.Unix(0, c.InfoPerFile()[graphtest.FrownPath].LastMtime).Unix())
}

func TestScan_PrunesRemovedFiles(t *testing.T) {
	dir, path := figureLibrary(t)
	scanned(t, dir, path)
	require.NoError(t, os.Remove(filepath.Join(dir, filepath.FromSlash(graphtest.FrownPath))))

	c, stats := scanned(t, dir, path)
	assert.Equal(t, 1, stats.Removed)
	assert.True(t, stats.Saved)
	assert.NotContains(t, c.InfoPerFile(), graphtest.FrownPath)
	assert.Equal(t, 4, c.NumModifiers())
}

func TestScan_UnreadableSearchPathKeepsEntries(t *testing.T) {
	dir, path := figureLibrary(t)
	scanned(t, dir, path)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	c, err := Open(path)
	require.NoError(t, err)
	gone := osfs.New(filepath.Join(t.TempDir(), "unmounted"))
	stats, err := c.Scan(context.Background(), []billy.Filesystem{gone}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "walk")

	assert.Equal(t, Stats{}, stats)
	assert.Len(t, c.InfoPerFile(), 7)
	assert.Equal(t, 5, c.NumModifiers())
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Files from a readable path are still indexed alongside.
	other := t.TempDir()
	graphtest.Write(t, other, map[string]string{"/data/extra/E.dsf": graphtest.FigureLibrary[graphtest.FrownPath]})
	stats, err = c.Scan(context.Background(), []billy.Filesystem{gone, osfs.New(other)}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, stats.Parsed)
	assert.Zero(t, stats.Removed)
	assert.True(t, stats.Saved)
	assert.Len(t, c.InfoPerFile(), 8)
}

func TestScan_ReportsBrokenFilesAndKeepsGoing(t *testing.T) {
	dir, path := figureLibrary(t)
	graphtest.Write(t, dir, map[string]string{
		"/data/fig/morphs/Broken.dsf": `{"asset_info": {"type": "modifier", `,
	})

	c, err := Open(path)
	require.NoError(t, err)
	stats, err := c.Scan(context.Background(), []billy.Filesystem{osfs.New(dir)}, nil)
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.Contains(t, err.Error(), "/data/fig/morphs/Broken.dsf")

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 7, stats.Parsed)
	assert.True(t, stats.Saved)
	assert.NotContains(t, c.InfoPerFile(), "/data/fig/morphs/Broken.dsf")
}

func TestScan_SkipsBadModifierEntries(t *testing.T) {
	dir := t.TempDir()
	graphtest.Write(t, dir, map[string]string{
		"/data/m.dsf": `{
  "asset_info": {"type": "modifier", "revision": "1"},
  "modifier_library": [
    {"id": "NoChannel", "parent": "/data/f.dsf#F"},
    {"id": "NoParent", "channel": {"id": "value"}},
    {"id": "Good", "parent": "#F", "channel": {"id": "value"}}
  ]
}`,
	})
	c, _ := scanned(t, dir, "")
	mods := c.InfoPerFile()["/data/m.dsf"].Modifiers
	require.Len(t, mods, 1)
	assert.Equal(t, "/data/m.dsf#F", mods["Good?value"].Parent, "parent made absolute")
}

func TestScan_ReadsGzipFiles(t *testing.T) {
	dir := t.TempDir()
	graphtest.WriteGzip(t, dir, graphtest.SmilePath, graphtest.FigureLibrary[graphtest.SmilePath])

	c, stats := scanned(t, dir, "")
	assert.Equal(t, 1, stats.Parsed)
	assert.Contains(t, c.InfoPerFile()[graphtest.SmilePath].Modifiers, "Smile?value")
}

func TestScan_FirstSearchPathWins(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	graphtest.Write(t, first, map[string]string{graphtest.SmilePath: graphtest.FigureLibrary[graphtest.SmilePath]})
	graphtest.Write(t, second, map[string]string{
		graphtest.SmilePath: graphtest.FigureLibrary[graphtest.SmilePath],
		graphtest.FrownPath: graphtest.FigureLibrary[graphtest.FrownPath],
	})

	c, err := Open("")
	require.NoError(t, err)
	stats, err := c.Scan(context.Background(), []billy.Filesystem{osfs.New(first), osfs.New(second)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)

	files := c.InfoPerFile()
	assert.Equal(t, filepath.ToSlash(filepath.Join(first, "data/fig/morphs/Smile.dsf")), files[graphtest.SmilePath].AbsolutePath)
	assert.Equal(t, filepath.ToSlash(filepath.Join(second, "data/fig/morphs/Frown.dsf")), files[graphtest.FrownPath].AbsolutePath)
}

func TestScan_Pattern(t *testing.T) {
	dir, _ := figureLibrary(t)
	c, err := Open("", WithPattern("*.duf"))
	require.NoError(t, err)
	stats, err := c.Scan(context.Background(), []billy.Filesystem{osfs.New(dir)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Contains(t, c.InfoPerFile(), graphtest.ScenePath)
	assert.Zero(t, c.NumModifiers())
}

func TestScan_CancelledIsNotSaved(t *testing.T) {
	dir, path := figureLibrary(t)
	c, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Scan(ctx, []billy.Filesystem{osfs.New(dir)}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, path)
}

func TestScan_Progress(t *testing.T) {
	dir, _ := figureLibrary(t)
	c, err := Open("")
	require.NoError(t, err)

	var calls [][2]int
	_, err = c.Scan(context.Background(), []billy.Filesystem{osfs.New(dir)}, func(done, total int, _ string) {
		calls = append(calls, [2]int{done, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 7}, {7, 7}}, calls)
}

func TestAbsoluteURL(t *testing.T) {
	cases := []struct{ raw, want string }{
		{"Figure:#smile?value", "/a.dsf#smile?value"},
		{"Figure:/data/b.dsf#smile?value", "/data/b.dsf#smile?value"},
		{"#smile?value", "/a.dsf#smile?value"},
		{"/data/b.dsf#x", "/data/b.dsf#x"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, absoluteURL(tc.raw, "/a.dsf"), tc.raw)
	}
}
