package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsense/internal/config"
)

func TestNewSQLite_InMemorySharesSchema(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 4})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx, "test", `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`))
	_, err = s.DB().ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)

	var v string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT v FROM kv WHERE k = 'a'`).Scan(&v))
	assert.Equal(t, "b", v)
	assert.NoError(t, s.Ping(ctx))
}

func TestNewSQLite_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "finsense.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 1})
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}

func TestEnsureSchema_ReportsComponent(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	err = s.EnsureSchema(context.Background(), "broken", "CREATE TABLE (")
	assert.ErrorContains(t, err, "broken")
}
