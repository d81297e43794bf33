package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/erp/bundle-engine/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add stock index", "add_stock_index"},
		{"Add-Stock-Index", "add_stock_index"},
		{"ADD__STOCK__INDEX", "add_stock_index"},
		{"  spaces  ", "spaces"},
		{"special!@#chars", "specialchars"},
		{"trailing_", "trailing"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()

	first, err := CreateMigration(dir, "create products", "products table")
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.Version)
	assert.Equal(t, filepath.Join(dir, "000001_create_products.up.sql"), first.UpPath)

	up, err := os.ReadFile(first.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "000001 create_products (up)")
	assert.Contains(t, string(up), "-- products table")

	second, err := CreateMigration(dir, "add index", "")
	require.NoError(t, err)
	assert.Equal(t, uint(2), second.Version)

	down, err := os.ReadFile(second.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "(down)")

	_, err = CreateMigration(dir, "!!!", "")
	assert.Error(t, err)
}

func TestListMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_b.up.sql":   {},
		"000001_a.up.sql":   {},
		"000001_a.down.sql": {},
		"README.md":         {},
		"bad.up.sql":        {},
	}
	list, err := ListMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, Migration{Version: 1, Name: "a", HasDown: true}, list[0])
	assert.Equal(t, "000002_b (no down)", list[1].String())
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	list, err := ListMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	for i, m := range list {
		assert.Equal(t, uint(i+1), m.Version, "versions must be contiguous")
		assert.True(t, m.HasDown, "%s has no down migration", m)
	}
}
