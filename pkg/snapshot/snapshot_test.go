package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keboola/storage-core/pkg/engine"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/tablelock"
	"github.com/keboola/storage-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	eng   *Engine
	paths *pathresolver.Resolver
	store metadata.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := metadata.NewBoltStore(filepath.Join(root, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	paths := pathresolver.New(filepath.Join(root, "data"))
	locks := tablelock.New()
	return &fixture{eng: New(store, paths, locks), paths: paths, store: store}
}

func (f *fixture) createTable(t *testing.T, projectID, bucket, table string) {
	t.Helper()
	path, err := f.paths.TablePath(projectID, "", bucket, table)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	e, err := engine.Open(path)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateTable(context.Background(), []engine.Column{
		{Name: "id", Type: "INTEGER", Nullable: false},
	}, []string{"id"}))
}

func TestResolveFallsBackToSystemDefaults(t *testing.T) {
	f := newFixture(t)
	eff, err := f.eng.Resolve("p1", "bucket1", "t1")
	require.NoError(t, err)

	assert.True(t, eff.Enabled)
	assert.Equal(t, 90, eff.RetentionManualDays)
	assert.Equal(t, 7, eff.RetentionAutoDays)
	assert.True(t, eff.TriggerDropTable)
	assert.False(t, eff.TriggerTruncateTable)
	assert.Equal(t, types.ScopeSystem, eff.Inheritance["enabled"])
}

func TestResolveMostSpecificScopeWins(t *testing.T) {
	f := newFixture(t)

	disabled := false
	require.NoError(t, f.store.PutSnapshotConfig(&types.SnapshotConfig{
		Scope: types.ScopeBucket, ScopeKey: "p1/bucket1", Enabled: &disabled,
	}))
	days := 45
	require.NoError(t, f.store.PutSnapshotConfig(&types.SnapshotConfig{
		Scope: types.ScopeTable, ScopeKey: "p1/bucket1/t1", RetentionManualDays: &days,
	}))

	eff, err := f.eng.Resolve("p1", "bucket1", "t1")
	require.NoError(t, err)

	assert.False(t, eff.Enabled)
	assert.Equal(t, types.ScopeBucket, eff.Inheritance["enabled"])
	assert.Equal(t, 45, eff.RetentionManualDays)
	assert.Equal(t, types.ScopeTable, eff.Inheritance["retention_manual_days"])

	// A different table in the same bucket doesn't see the table-scope override.
	eff2, err := f.eng.Resolve("p1", "bucket1", "other_table")
	require.NoError(t, err)
	assert.Equal(t, 90, eff2.RetentionManualDays)
}

func TestManualCapturesSnapshotFile(t *testing.T) {
	f := newFixture(t)
	f.createTable(t, "p1", "bucket1", "t1")

	snap, err := f.eng.Manual(context.Background(), "p1", "", "bucket1", "t1", "before migration", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, types.SnapshotManual, snap.SnapshotType)
	assert.EqualValues(t, 0, snap.RowCountAtCapture)
	assert.FileExists(t, snap.FilePath)
	assert.True(t, snap.ExpiresAt.After(time.Now().Add(89*24*time.Hour)))

	fromStore, err := f.store.GetSnapshot(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.FilePath, fromStore.FilePath)
}

func TestAutoSkippedWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.createTable(t, "p1", "bucket1", "t1")

	disabled := false
	require.NoError(t, f.store.PutSnapshotConfig(&types.SnapshotConfig{
		Scope: types.ScopeProject, ScopeKey: "p1", Enabled: &disabled,
	}))

	snap, err := f.eng.Auto(context.Background(), "p1", "", "bucket1", "t1", types.SnapshotAutoPreDrop, 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestAutoSkippedWhenTriggerOff(t *testing.T) {
	f := newFixture(t)
	f.createTable(t, "p1", "bucket1", "t1")

	snap, err := f.eng.Auto(context.Background(), "p1", "", "bucket1", "t1", types.SnapshotAutoPreTruncate, 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, snap) // trigger_truncate_table defaults to false
}

func TestAutoFiresWhenTriggerOn(t *testing.T) {
	f := newFixture(t)
	f.createTable(t, "p1", "bucket1", "t1")

	snap, err := f.eng.Auto(context.Background(), "p1", "", "bucket1", "t1", types.SnapshotAutoPreDrop, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "Auto-backup before DROP TABLE", snap.Description)
	assert.True(t, snap.ExpiresAt.Before(time.Now().Add(8*24*time.Hour)))
}

func TestRestoreToNewTargetTable(t *testing.T) {
	f := newFixture(t)
	f.createTable(t, "p1", "bucket1", "t1")

	snap, err := f.eng.Manual(context.Background(), "p1", "", "bucket1", "t1", "", 5*time.Second)
	require.NoError(t, err)

	result, err := f.eng.Restore(context.Background(), snap.ID, "t1_restored", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "t1_restored", result.RestoredTo)
	assert.EqualValues(t, 0, result.RowCount)

	restoredPath, err := f.paths.TablePath("p1", "", "bucket1", "t1_restored")
	require.NoError(t, err)
	assert.FileExists(t, restoredPath)

	originalPath, err := f.paths.TablePath("p1", "", "bucket1", "t1")
	require.NoError(t, err)
	assert.FileExists(t, originalPath)
}

func TestCleanupExpiredRemovesFileAndRow(t *testing.T) {
	f := newFixture(t)
	f.createTable(t, "p1", "bucket1", "t1")

	snap, err := f.eng.Manual(context.Background(), "p1", "", "bucket1", "t1", "", 5*time.Second)
	require.NoError(t, err)

	// Force expiry.
	snap.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, f.store.CreateSnapshot(snap))

	n, err := f.eng.CleanupExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(snap.FilePath)
	assert.True(t, os.IsNotExist(err))
}
