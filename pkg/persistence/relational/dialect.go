package relational

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// Dialect holds what differs between the supported databases.
type Dialect struct {
	Name   string
	Driver string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// single connection; each in-memory SQLite connection is its own database
	singleConn bool
	schema     []string
}

var SQLite = Dialect{
	Name:       "sqlite",
	Driver:     "sqlite",
	singleConn: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS folio_resources (
			id TEXT PRIMARY KEY,
			internal_model TEXT NOT NULL,
			metadata TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folio_resources_model ON folio_resources(internal_model)`,
		`CREATE TABLE IF NOT EXISTS folio_references (
			resource_id TEXT NOT NULL,
			property TEXT NOT NULL,
			position INTEGER NOT NULL,
			target_id TEXT NOT NULL,
			PRIMARY KEY (resource_id, property, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folio_references_target ON folio_references(property, target_id)`,
	},
}

var Postgres = Dialect{
	Name:     "postgres",
	Driver:   "pgx",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS folio_resources (
			id TEXT PRIMARY KEY,
			internal_model TEXT NOT NULL,
			metadata JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folio_resources_model ON folio_resources(internal_model)`,
		`CREATE TABLE IF NOT EXISTS folio_references (
			resource_id TEXT NOT NULL REFERENCES folio_resources(id) ON DELETE CASCADE,
			property TEXT NOT NULL,
			position INTEGER NOT NULL,
			target_id TEXT NOT NULL,
			PRIMARY KEY (resource_id, property, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folio_references_target ON folio_references(property, target_id)`,
	},
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("relational: unknown dialect %q", name)
}

// Rebind rewrites ? placeholders for dialects that number them. Queries in
// this package never contain a literal ?.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
