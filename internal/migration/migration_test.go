package migration

import (
	"context"
	"testing"

	"sigfit/internal"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_IdempotentOnSQLite(t *testing.T) {
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	runner := NewRunner(internal.NopLogger())
	assert.Equal(t, "1.0.0", runner.Version())

	ctx := context.Background()
	require.NoError(t, runner.Run(ctx, db))
	require.NoError(t, runner.Run(ctx, db))

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	assert.Equal(t, []string{"fit_run_parameters", "fit_runs"}, tables)

	var indexes int
	require.NoError(t, db.Get(&indexes, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_fit_%'`))
	assert.Equal(t, 4, indexes)
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, "JSONB", dialectFor(sqlx.NewDb(nil, "postgres")).json)
	assert.Equal(t, "BLOB", dialectFor(sqlx.NewDb(nil, "sqlite3")).json)
}
