package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrateMode(t *testing.T) {
	t.Run("Should default to up", func(t *testing.T) {
		mode, err := ParseMigrateMode("")
		require.NoError(t, err)
		assert.Equal(t, MigrateUp, mode)
	})
	t.Run("Should accept known modes case-insensitively", func(t *testing.T) {
		mode, err := ParseMigrateMode(" Refresh ")
		require.NoError(t, err)
		assert.Equal(t, MigrateRefresh, mode)
		mode, err = ParseMigrateMode("none")
		require.NoError(t, err)
		assert.Equal(t, MigrateNone, mode)
	})
	t.Run("Should reject unknown modes", func(t *testing.T) {
		_, err := ParseMigrateMode("down")
		assert.ErrorContains(t, err, "unsupported migrate mode")
	})
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Run("Should embed the initial schema", func(t *testing.T) {
		data, err := migrationsFS.ReadFile("migrations/00001_initial.sql")
		require.NoError(t, err)
		assert.Contains(t, string(data), "-- +goose Up")
		assert.Contains(t, string(data), "-- +goose Down")
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS vex_record")
	})
}
