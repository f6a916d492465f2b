package db

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	files := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 4)

	var versions []int
	for _, m := range migrations {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []int{1, 2, 5, 10}, versions)
	assert.Equal(t, "001_first.sql", migrations[0].Name)
	assert.Equal(t, "SELECT 1;", migrations[0].SQL)
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql":      {Data: []byte("SELECT 1;")},
		"README.md":         {Data: []byte("docs")},
		"notes.sql":         {Data: []byte("SELECT 0;")},
		"abc_invalid.sql":   {Data: []byte("SELECT 0;")},
		"archive/002_x.sql": {Data: []byte("SELECT 2;")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 1)
	assert.Equal(t, 1, migrations[0].Version)
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql": {Data: []byte("SELECT 1;")},
		"1_again.sql":  {Data: []byte("SELECT 1;")},
	}

	_, err := NewMigrator(nil, files).LoadMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate migration version 1")
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, Migrations()).LoadMigrations()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)

	core := migrations[0].SQL
	assert.Contains(t, core, "appointments_active_slot_uq")
	assert.Contains(t, core, "appointment_current_status")
	assert.Contains(t, core, "appointment_last_cancellation")

	var seed string
	for _, m := range migrations {
		if strings.Contains(m.Name, "statuses") {
			seed = m.SQL
		}
	}
	for _, value := range []string{"Pendiente", "Confirmado", "Cancelado", "Atendido"} {
		assert.Contains(t, seed, value)
	}
}
