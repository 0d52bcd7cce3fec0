package export

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Modifier is one row of an exported modifiers table.
type Modifier struct {
	URL         string
	ID          string
	Name        string
	File        string
	Parent      string
	Group       string
	ChannelType string
	Label       string
	// Status and StaticValue are only set when a classification was
	// exported.
	Status      string
	StaticValue sql.NullFloat64
	Dynamic     bool
}

// StreamModifiers calls fn for each exported modifier, ordered by URL.
func StreamModifiers(dbPath string, fn func(Modifier) error) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.Query(`
		SELECT url, id, COALESCE(name, ''), file, COALESCE(parent, ''), COALESCE(grp, ''),
			COALESCE(channel_type, ''), COALESCE(label, ''), COALESCE(status, ''), static_value, dynamic
		FROM modifiers ORDER BY url
	`)
	if err != nil {
		return fmt.Errorf("query modifiers: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var m Modifier
		var dynamic int
		if err := rows.Scan(&m.URL, &m.ID, &m.Name, &m.File, &m.Parent, &m.Group,
			&m.ChannelType, &m.Label, &m.Status, &m.StaticValue, &dynamic); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		m.Dynamic = dynamic != 0
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LoadModifiers reads every exported modifier, ordered by URL.
func LoadModifiers(dbPath string) ([]Modifier, error) {
	var out []Modifier
	err := StreamModifiers(dbPath, func(m Modifier) error {
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Requires returns the modifiers url reads, ordered by URL.
func Requires(dbPath, url string) ([]string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.Query(`SELECT required_url FROM requires WHERE modifier_url = ? ORDER BY required_url`, url)
	if err != nil {
		return nil, fmt.Errorf("query requires: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
