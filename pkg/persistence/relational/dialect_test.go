package relational

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = ?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2`, Postgres.Rebind(q))
}

func TestDialectFor(t *testing.T) {
	for name, want := range map[string]string{"sqlite": "sqlite", "SQLite3": "sqlite", "postgres": "postgres", "pgx": "postgres"} {
		d, err := DialectFor(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, d.Name)
	}
	_, err := DialectFor("oracle")
	assert.Error(t, err)
}
