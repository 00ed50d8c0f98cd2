package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	for _, dialect := range []string{"postgres", "sqlite"} {
		t.Run(dialect, func(t *testing.T) {
			fsys, err := Migrations(dialect)
			require.NoError(t, err)

			files, err := fs.Glob(fsys, "*.sql")
			require.NoError(t, err)
			require.NotEmpty(t, files)

			for _, name := range files {
				content, err := fs.ReadFile(fsys, name)
				require.NoError(t, err)
				s := string(content)
				assert.Contains(t, s, "-- +goose Up", name)
				assert.Contains(t, s, "-- +goose Down", name)
				assert.Equal(t, strings.Count(s, "StatementBegin"), strings.Count(s, "StatementEnd"), name)
			}
		})
	}
}

func TestMigrations_SameVersions(t *testing.T) {
	pg, err := Migrations("postgres")
	require.NoError(t, err)
	lite, err := Migrations("sqlite")
	require.NoError(t, err)

	a, err := fs.Glob(pg, "*.sql")
	require.NoError(t, err)
	b, err := fs.Glob(lite, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
