package export

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/dsongraph/internal/cache"
	"github.com/agentic-research/dsongraph/internal/graph"
	"github.com/agentic-research/dsongraph/internal/graph/graphtest"
	"github.com/agentic-research/dsongraph/internal/resolver"
)

const (
	smileURL = "/data/fig/morphs/Smile.dsf#Smile"
	frownURL = "/data/fig/morphs/Frown.dsf#Frown"
	fixURL   = "/data/fig/morphs/SmileFix.dsf#SmileFix"
	grinURL  = "/data/fig/morphs/Grin.dsf#Grin"
	hairURL  = "/data/hair/morphs/HairSmile.dsf#Smile"
)

func indexed(t *testing.T) (*cache.Cache, *graph.Environment) {
	t.Helper()
	dir := t.TempDir()
	graphtest.Write(t, dir, graphtest.FigureLibrary)
	fsys := osfs.New(dir)

	c, err := cache.Open("")
	require.NoError(t, err)
	_, err = c.Scan(context.Background(), []billy.Filesystem{fsys}, nil)
	require.NoError(t, err)
	return c, graph.NewEnvironment(graph.WithSearchPaths(fsys))
}

func classified(t *testing.T, c *cache.Cache, env *graph.Environment) (*resolver.Resolver, *resolver.Results) {
	t.Helper()
	scene, err := env.GetOrLoadFile(graphtest.ScenePath)
	require.NoError(t, err)
	r, err := resolver.New([]*graph.Node{scene.Node("Figure"), scene.Node("Hair")}, c.InfoPerFile(), nil)
	require.NoError(t, err)
	return r, r.ModifierInfo(resolver.NewAssetConfig())
}

func byURL(t *testing.T, dbPath string) map[string]Modifier {
	t.Helper()
	rows, err := LoadModifiers(dbPath)
	require.NoError(t, err)
	out := make(map[string]Modifier, len(rows))
	for _, m := range rows {
		out[m.URL] = m
	}
	return out
}

func TestWrite_IndexOnly(t *testing.T) {
	c, _ := indexed(t)
	dbPath := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, Write(dbPath, c.InfoPerFile(), nil, nil))

	mods := byURL(t, dbPath)
	assert.Len(t, mods, 5)

	smile := mods[smileURL]
	assert.Equal(t, "Smile", smile.ID)
	assert.Equal(t, graphtest.SmilePath, smile.File)
	assert.Equal(t, "/data/fig/Figure.dsf#Figure", smile.Parent)
	assert.Equal(t, "/Head/Mouth", smile.Group)
	assert.Equal(t, "float", smile.ChannelType)
	assert.Equal(t, "Smile Wide", smile.Label)
	assert.Empty(t, smile.Status)
	assert.False(t, smile.StaticValue.Valid)

	assert.Equal(t, "alias", mods[grinURL].ChannelType)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var files, formulas int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM files").Scan(&files))
	assert.Equal(t, 7, files)
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM formulas WHERE modifier_url = ?", fixURL).Scan(&formulas))
	assert.Equal(t, len(c.InfoPerFile()[graphtest.FixPath].Modifiers["SmileFix?value"].Formulas), formulas)
}

func TestWrite_WithClassification(t *testing.T) {
	c, env := indexed(t)
	r, res := classified(t, c, env)
	dbPath := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, Write(dbPath, c.InfoPerFile(), r, res))

	mods := byURL(t, dbPath)
	status := map[string]string{}
	for url, m := range mods {
		status[url] = m.Status
	}
	assert.Equal(t, map[string]string{
		smileURL: "used",
		hairURL:  "used",
		frownURL: "available_for_dynamic",
		fixURL:   "unavailable",
		grinURL:  "",
	}, status)

	require.True(t, mods[smileURL].StaticValue.Valid)
	assert.InDelta(t, 0.8, mods[smileURL].StaticValue.Float64, 1e-9)
	assert.False(t, mods[smileURL].Dynamic)

	deps, err := Requires(dbPath, fixURL)
	require.NoError(t, err)
	assert.Equal(t, r.ModifiersRequiredBy(fixURL), deps)
	assert.NotEmpty(t, deps)
}

func TestWrite_ReplacesPreviousExport(t *testing.T) {
	c, env := indexed(t)
	r, res := classified(t, c, env)
	dbPath := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, Write(dbPath, c.InfoPerFile(), r, res))

	config := resolver.NewAssetConfig()
	config.SetDynamicURL(frownURL, true)
	require.NoError(t, Write(dbPath, c.InfoPerFile(), r, r.ModifierInfo(config)))

	mods := byURL(t, dbPath)
	assert.Len(t, mods, 5)
	assert.True(t, mods[frownURL].Dynamic)
	assert.Equal(t, "unused", mods[frownURL].Status)
}

func TestWriter_BatchesAcrossTransactions(t *testing.T) {
	c, _ := indexed(t)
	dbPath := filepath.Join(t.TempDir(), "index.db")
	w, err := NewWriter(dbPath)
	require.NoError(t, err)
	w.batchSize = 2

	for _, fi := range c.InfoPerFile() {
		require.NoError(t, w.AddFile(fi))
	}
	require.NoError(t, w.Close())
	assert.Len(t, byURL(t, dbPath), 5)
}

func TestStreamModifiers_StopsOnError(t *testing.T) {
	c, _ := indexed(t)
	dbPath := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, Write(dbPath, c.InfoPerFile(), nil, nil))

	stop := assert.AnError
	var seen []string
	err := StreamModifiers(dbPath, func(m Modifier) error {
		seen = append(seen, m.URL)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{frownURL}, seen, "rows come ordered by URL")
}
