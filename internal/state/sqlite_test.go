package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/yaradedupe/internal/registry"
	"github.com/leapstack-labs/yaradedupe/internal/testutil"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(":memory:"))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func scenarioRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register("Foo", "rule Foo { condition: true }", "a/x.yar")
	reg.Register("Foo", "rule Foo { condition: false }", "b/y.yar")
	reg.Register("Bar", "rule Bar { condition: true }", "b/y.yar")
	reg.MergeImports([]string{`import "pe"`})
	return reg
}

func scenarioRun(reg *registry.Registry, started time.Time) *Run {
	return &Run{
		StartedAt:    started,
		FinishedAt:   started.Add(1500 * time.Millisecond),
		SourcePath:   "/rules",
		OutputDir:    "/out",
		Workers:      4,
		FilesTotal:   2,
		Stats:        reg.Stats(),
		Declarations: DeclarationsFrom(reg),
		Imports:      reg.Imports(),
	}
}

func TestDeclarationsFrom(t *testing.T) {
	got := DeclarationsFrom(scenarioRegistry())
	assert.Equal(t, []Declaration{
		{Name: "Foo", Ordinal: 0, File: "a/x.yar", Kept: true},
		{Name: "Foo", Ordinal: 1, File: "b/y.yar"},
		{Name: "Bar", Ordinal: 0, File: "b/y.yar", Kept: true},
	}, got)
}

func TestSQLiteStore_OpenMigrates(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, table := range []string{"runs", "declarations", "run_imports"} {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		require.NoError(t, err, "table %s", table)
		rows.Close()
	}
}

func TestSQLiteStore_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(path))
	require.NoError(t, store.Close())

	reopened := NewSQLiteStore(nil)
	require.NoError(t, reopened.Open(path))
	defer reopened.Close()
}

func TestSQLiteStore_RecordAndRead(t *testing.T) {
	store := setupTestStore(t)
	reg := scenarioRegistry()
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	run := scenarioRun(reg, started)
	require.NoError(t, store.RecordRun(run))
	assert.NotEmpty(t, run.ID)

	latest, err := store.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, started, latest.StartedAt)
	assert.Equal(t, 1500*time.Millisecond, latest.Duration())
	assert.Equal(t, registry.Stats{Seen: 3, Kept: 2, Duplicates: 1}, latest.Stats)
	assert.Equal(t, 4, latest.Workers)

	dups, err := store.DuplicatesForRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.Duplicates(), dups)

	decls, err := store.Declarations(run.ID)
	require.NoError(t, err)
	require.Len(t, decls, 3)
	assert.Equal(t, Declaration{Name: "Bar", Ordinal: 0, File: "b/y.yar", Kept: true}, decls[0])

	imports, err := store.Imports(run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{`import "pe"`}, imports)
}

func TestSQLiteStore_LatestRunPicksNewest(t *testing.T) {
	store := setupTestStore(t)
	reg := scenarioRegistry()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	older := scenarioRun(reg, base)
	newer := scenarioRun(reg, base.Add(time.Hour))
	require.NoError(t, store.RecordRun(newer))
	require.NoError(t, store.RecordRun(older))

	latest, err := store.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
}

func TestSQLiteStore_NoRuns(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.LatestRun()
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)
	assert.Error(t, store.RecordRun(&Run{}))
	_, err := store.LatestRun()
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_RecordRunRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO declarations").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	store := NewSQLiteStoreWithDB(db, nil)
	err = store.RecordRun(&Run{
		ID:           "run-1",
		Declarations: []Declaration{{Name: "Foo", File: "a.yar", Kept: true}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_LatestRunQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, started_at").WillReturnError(errors.New("locked"))

	store := NewSQLiteStoreWithDB(db, nil)
	_, err = store.LatestRun()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRuns)
	assert.NoError(t, mock.ExpectationsWereMet())
}
