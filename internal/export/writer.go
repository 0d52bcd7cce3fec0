// Package export writes the modifier index, and optionally a
// classification of it, to a SQLite database for ad hoc querying.
package export

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/agentic-research/dsongraph/api"
	"github.com/agentic-research/dsongraph/internal/resolver"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	absolute_path TEXT NOT NULL,
	mtime INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS modifiers (
	url TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	name TEXT,
	file TEXT NOT NULL,
	parent TEXT,
	grp TEXT,
	region TEXT,
	channel_type TEXT,
	label TEXT,
	record JSON,
	status TEXT,
	static_value REAL,
	dynamic INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS formulas (
	modifier_url TEXT NOT NULL,
	idx INTEGER NOT NULL,
	output TEXT NOT NULL,
	stage TEXT,
	operations JSON,
	PRIMARY KEY (modifier_url, idx)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS requires (
	modifier_url TEXT NOT NULL,
	required_url TEXT NOT NULL,
	PRIMARY KEY (modifier_url, required_url)
) WITHOUT ROWID;
`

// Writer streams index rows into a SQLite database in batched
// transactions. It is safe for concurrent use.
type Writer struct {
	db           *sql.DB
	tx           *sql.Tx
	stmtFile     *sql.Stmt
	stmtModifier *sql.Stmt
	stmtFormula  *sql.Stmt
	stmtStatus   *sql.Stmt
	stmtRequires *sql.Stmt
	batchSize    int
	count        int
	mu           sync.Mutex
}

// NewWriter creates the database at dbPath if needed and initializes the
// schema. Existing rows with the same keys are replaced.
func NewWriter(dbPath string) (*Writer, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Bulk insert; the export can always be regenerated.
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &Writer{db: db, batchSize: 10000}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	prepare := func(q string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = w.tx.Prepare(q)
		return stmt
	}
	w.stmtFile = prepare(`INSERT OR REPLACE INTO files (path, absolute_path, mtime) VALUES (?, ?, ?)`)
	w.stmtModifier = prepare(`
		INSERT OR REPLACE INTO modifiers (url, id, name, file, parent, grp, region, channel_type, label, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	w.stmtFormula = prepare(`
		INSERT OR REPLACE INTO formulas (modifier_url, idx, output, stage, operations)
		VALUES (?, ?, ?, ?, ?)
	`)
	w.stmtStatus = prepare(`UPDATE modifiers SET status = ?, static_value = ?, dynamic = ? WHERE url = ?`)
	w.stmtRequires = prepare(`INSERT OR IGNORE INTO requires (modifier_url, required_url) VALUES (?, ?)`)
	return err
}

func (w *Writer) commitTx() error {
	for _, stmt := range []*sql.Stmt{w.stmtFile, w.stmtModifier, w.stmtFormula, w.stmtStatus, w.stmtRequires} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return w.tx.Commit()
}

// tick counts one row and rolls the transaction over every batchSize rows.
func (w *Writer) tick() error {
	w.count++
	if w.count%w.batchSize != 0 {
		return nil
	}
	if err := w.commitTx(); err != nil {
		return err
	}
	return w.beginTx()
}

// AddFile writes one index entry, its modifiers and their formulas.
func (w *Writer) AddFile(fi *api.FileInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.stmtFile.Exec(fi.RelativePath, fi.AbsolutePath, fi.LastMtime); err != nil {
		return fmt.Errorf("insert file %s: %w", fi.RelativePath, err)
	}
	if err := w.tick(); err != nil {
		return err
	}
	for _, key := range slices.Sorted(maps.Keys(fi.Modifiers)) {
		if err := w.addModifier(fi, fi.Modifiers[key]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) addModifier(fi *api.FileInfo, info *api.ModifierInfo) error {
	record, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal modifier %s: %w", info.URL, err)
	}
	channelType, _ := info.Channel["type"].(string)
	label := info.PresentationLabel
	if label == "" {
		label, _ = info.Channel["label"].(string)
	}
	_, err = w.stmtModifier.Exec(info.URL, info.ID, info.Name, fi.RelativePath, info.Parent,
		info.Group, info.Region, channelType, label, string(record))
	if err != nil {
		return fmt.Errorf("insert modifier %s: %w", info.URL, err)
	}
	if err := w.tick(); err != nil {
		return err
	}

	for i, f := range info.Formulas {
		ops, err := json.Marshal(f.Operations)
		if err != nil {
			return fmt.Errorf("marshal formula %s: %w", f.Output, err)
		}
		if _, err := w.stmtFormula.Exec(info.URL, i, f.Output, f.Stage, string(ops)); err != nil {
			return fmt.Errorf("insert formula %s[%d]: %w", info.URL, i, err)
		}
		if err := w.tick(); err != nil {
			return err
		}
	}
	return nil
}

// AddResults records the classification of every modifier in res, and the
// modifiers each one requires. Modifiers must already have been written
// with AddFile.
func (w *Writer) AddResults(r *resolver.Resolver, res *resolver.Results) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, url := range slices.Sorted(maps.Keys(res.All)) {
		m := res.All[url]
		dynamic := 0
		if res.Dynamic[url] {
			dynamic = 1
		}
		if _, err := w.stmtStatus.Exec(res.Status(m), res.StaticValues[m], dynamic, url); err != nil {
			return fmt.Errorf("update modifier %s: %w", url, err)
		}
		if err := w.tick(); err != nil {
			return err
		}
		for _, dep := range r.ModifiersRequiredBy(url) {
			if _, err := w.stmtRequires.Exec(url, dep); err != nil {
				return fmt.Errorf("insert requires %s: %w", url, err)
			}
			if err := w.tick(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close commits pending rows, builds the lookup indices and closes the
// database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}

	indices := `
	CREATE INDEX IF NOT EXISTS idx_modifiers_parent ON modifiers(parent);
	CREATE INDEX IF NOT EXISTS idx_modifiers_status ON modifiers(status);
	CREATE INDEX IF NOT EXISTS idx_requires_required ON requires(required_url);
	`
	if _, err := w.db.Exec(indices); err != nil {
		_ = w.db.Close()
		return fmt.Errorf("create indices: %w", err)
	}
	return w.db.Close()
}

// Write exports infoPerFile to dbPath, with the classification when res is
// not nil.
func Write(dbPath string, infoPerFile map[string]*api.FileInfo, r *resolver.Resolver, res *resolver.Results) (err error) {
	w, err := NewWriter(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	for _, rel := range slices.Sorted(maps.Keys(infoPerFile)) {
		if err := w.AddFile(infoPerFile[rel]); err != nil {
			return err
		}
	}
	if res != nil {
		return w.AddResults(r, res)
	}
	return nil
}
