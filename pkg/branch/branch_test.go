package branch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func (f *fixture) writeMainTableFile(t *testing.T, projectID, bucket, table string, content string) {
	t.Helper()
	path, err := f.paths.MainTablePath(projectID, bucket, table)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestEnsureTableInBranchFailsWhenMainMissing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateBranch(&types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}))

	_, err := f.eng.EnsureTableInBranch(context.Background(), "p1", "br1", "bucket1", "missing", time.Second)
	require.Error(t, err)
}

func TestEnsureTableInBranchCopiesOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateBranch(&types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}))
	f.writeMainTableFile(t, "p1", "bucket1", "t1", "main-content")

	cow, err := f.eng.EnsureTableInBranch(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)
	assert.True(t, cow)

	branchPath, err := f.paths.TablePath("p1", "br1", "bucket1", "t1")
	require.NoError(t, err)
	data, err := os.ReadFile(branchPath)
	require.NoError(t, err)
	assert.Equal(t, "main-content", string(data))

	// second call is a no-op: cowPerformed is false.
	cow, err = f.eng.EnsureTableInBranch(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)
	assert.False(t, cow)
}

func TestResolveReadPathPrefersBranchCopy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateBranch(&types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}))
	f.writeMainTableFile(t, "p1", "bucket1", "t1", "main-content")

	path, err := f.eng.ResolveReadPath("p1", "br1", "bucket1", "t1")
	require.NoError(t, err)
	mainPath, _ := f.paths.MainTablePath("p1", "bucket1", "t1")
	assert.Equal(t, mainPath, path)

	_, err = f.eng.EnsureTableInBranch(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)

	path, err = f.eng.ResolveReadPath("p1", "br1", "bucket1", "t1")
	require.NoError(t, err)
	branchPath, _ := f.paths.TablePath("p1", "br1", "bucket1", "t1")
	assert.Equal(t, branchPath, path)
}

func TestResolveWritePathTriggersCoW(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateBranch(&types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}))
	f.writeMainTableFile(t, "p1", "bucket1", "t1", "main-content")

	path, err := f.eng.ResolveWritePath(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)
	branchPath, _ := f.paths.TablePath("p1", "br1", "bucket1", "t1")
	assert.Equal(t, branchPath, path)
	assert.FileExists(t, branchPath)
}

func TestPullNoOpWhenNotInBranch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateBranch(&types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}))

	result, err := f.eng.Pull(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)
	assert.False(t, result.Reverted)
	assert.Equal(t, "already reading from main", result.Message)
}

func TestPullRemovesBranchCopy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateBranch(&types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}))
	f.writeMainTableFile(t, "p1", "bucket1", "t1", "main-content")
	_, err := f.eng.EnsureTableInBranch(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)

	result, err := f.eng.Pull(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Reverted)

	branchPath, _ := f.paths.TablePath("p1", "br1", "bucket1", "t1")
	_, statErr := os.Stat(branchPath)
	assert.True(t, os.IsNotExist(statErr))

	inBranch, err := f.store.IsTableInBranch("p1", "br1", "bucket1", "t1")
	require.NoError(t, err)
	assert.False(t, inBranch)
}

func TestDeleteRemovesBranchDirectoryAndRecord(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateBranch(&types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}))
	f.writeMainTableFile(t, "p1", "bucket1", "t1", "main-content")
	_, err := f.eng.EnsureTableInBranch(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)

	require.NoError(t, f.eng.Delete("p1", "br1"))

	dir, _ := f.paths.BranchDir("p1", "br1")
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))

	_, err = f.store.GetBranch("p1", "br1")
	assert.Error(t, err)
}

func TestStatsScansBranchDirectory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateBranch(&types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}))
	f.writeMainTableFile(t, "p1", "bucket1", "t1", "0123456789")
	_, err := f.eng.EnsureTableInBranch(context.Background(), "p1", "br1", "bucket1", "t1", time.Second)
	require.NoError(t, err)

	stats, err := f.eng.Stats("p1", "br1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FileCount)
	assert.EqualValues(t, 10, stats.TotalSize)
}

func TestStatsOnMissingBranchDirectoryIsEmpty(t *testing.T) {
	f := newFixture(t)
	stats, err := f.eng.Stats("p1", "br-never-created")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FileCount)
}
