package share

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/engine"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/pathresolver"
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
	return &fixture{eng: New(store, paths), paths: paths, store: store}
}

func (f *fixture) createSourceTable(t *testing.T, projectID, bucket, table string) {
	t.Helper()
	path, err := f.paths.MainTablePath(projectID, bucket, table)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	e, err := engine.Open(path)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateTable(context.Background(), []engine.Column{
		{Name: "id", Type: "INTEGER", Nullable: false},
	}, []string{"id"}))
}

func TestShareRoleName(t *testing.T) {
	assert.Equal(t, "share_p1_in_c", ShareRoleName("p1", "in_c"))
}

func TestShareAndUnshareRoundTrip(t *testing.T) {
	f := newFixture(t)
	role, err := f.eng.Share("p1", "in_c", "p2")
	require.NoError(t, err)
	assert.Equal(t, "share_p1_in_c", role)

	shares, err := f.store.ListBucketShares("p1", "in_c")
	require.NoError(t, err)
	assert.Len(t, shares, 1)

	require.NoError(t, f.eng.Unshare("p1", "in_c", "p2"))
	shares, err = f.store.ListBucketShares("p1", "in_c")
	require.NoError(t, err)
	assert.Empty(t, shares)
}

func TestLinkFailsWhenSourceBucketMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Link(context.Background(), "p2", "linked", "p1", "nonexistent")
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestLinkCreatesViewsAndRecord(t *testing.T) {
	f := newFixture(t)
	f.createSourceTable(t, "p1", "in_c", "users")
	f.createSourceTable(t, "p1", "in_c", "orders")

	result, err := f.eng.Link(context.Background(), "p2", "linked_c", "p1", "in_c")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"linked_c.users", "linked_c.orders"}, result.Views)

	link, err := f.store.GetBucketLink("p2", "linked_c")
	require.NoError(t, err)
	assert.Equal(t, "p1", link.SourceProjectID)
	assert.Equal(t, "in_c", link.SourceBucket)
	assert.Len(t, link.Views, 2)

	catalogPath, err := f.paths.CatalogPath("p2")
	require.NoError(t, err)
	assert.FileExists(t, catalogPath)
}

func TestLinkRejectsAlreadyLinkedTargetBucket(t *testing.T) {
	f := newFixture(t)
	f.createSourceTable(t, "p1", "in_c", "users")

	_, err := f.eng.Link(context.Background(), "p2", "linked_c", "p1", "in_c")
	require.NoError(t, err)

	_, err = f.eng.Link(context.Background(), "p2", "linked_c", "p1", "in_c")
	require.Error(t, err)
	assert.Equal(t, apierr.KindConflict, apierr.KindOf(err))
}

func TestUnlinkRemovesRecord(t *testing.T) {
	f := newFixture(t)
	f.createSourceTable(t, "p1", "in_c", "users")

	_, err := f.eng.Link(context.Background(), "p2", "linked_c", "p1", "in_c")
	require.NoError(t, err)

	require.NoError(t, f.eng.Unlink(context.Background(), "p2", "linked_c"))

	_, err = f.store.GetBucketLink("p2", "linked_c")
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))

	// unlinking again should surface the same not-found, not panic.
	err = f.eng.Unlink(context.Background(), "p2", "linked_c")
	require.Error(t, err)
}
