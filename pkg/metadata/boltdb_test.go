package metadata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)

	p := &types.Project{ID: "p1", DisplayName: "Project One", Status: types.ProjectActive, CreatedAt: time.Now()}
	require.NoError(t, s.CreateProject(p))

	got, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, "Project One", got.DisplayName)

	p.DisplayName = "Renamed"
	require.NoError(t, s.UpdateProject(p))
	got, err = s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)

	list, err := s.ListProjects()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteProject("p1"))
	_, err = s.GetProject("p1")
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindNotFound, e.Kind)
}

func TestBucketListScopedToProject(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateBucket(&types.Bucket{ProjectID: "p1", Name: "in_c", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateBucket(&types.Bucket{ProjectID: "p1", Name: "out_c", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateBucket(&types.Bucket{ProjectID: "p2", Name: "in_c", CreatedAt: time.Now()}))

	list, err := s.ListBuckets("p1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list2, err := s.ListBuckets("p2")
	require.NoError(t, err)
	assert.Len(t, list2, 1)
}

func TestTableCRUD(t *testing.T) {
	s := newTestStore(t)

	tbl := &types.Table{ProjectID: "p1", BucketName: "in_c", TableName: "users", RowCount: 10}
	require.NoError(t, s.CreateTable(tbl))

	got, err := s.GetTable("p1", "in_c", "users")
	require.NoError(t, err)
	assert.EqualValues(t, 10, got.RowCount)

	tbl.RowCount = 20
	require.NoError(t, s.UpdateTable(tbl))
	got, err = s.GetTable("p1", "in_c", "users")
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.RowCount)

	require.NoError(t, s.CreateTable(&types.Table{ProjectID: "p1", BucketName: "in_c", TableName: "orders"}))
	require.NoError(t, s.CreateTable(&types.Table{ProjectID: "p1", BucketName: "out_c", TableName: "report"}))

	list, err := s.ListTables("p1", "in_c")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteTable("p1", "in_c", "users"))
	_, err = s.GetTable("p1", "in_c", "users")
	assert.Error(t, err)
}

func TestBranchCopiedTables(t *testing.T) {
	s := newTestStore(t)

	b := &types.Branch{ID: "br1", ProjectID: "p1", Name: "dev"}
	require.NoError(t, s.CreateBranch(b))

	inBranch, err := s.IsTableInBranch("p1", "br1", "in_c", "users")
	require.NoError(t, err)
	assert.False(t, inBranch)

	require.NoError(t, s.MarkTableCopiedToBranch("p1", "br1", "in_c", "users"))
	// marking twice must stay idempotent
	require.NoError(t, s.MarkTableCopiedToBranch("p1", "br1", "in_c", "users"))

	inBranch, err = s.IsTableInBranch("p1", "br1", "in_c", "users")
	require.NoError(t, err)
	assert.True(t, inBranch)

	tables, err := s.GetBranchTables("p1", "br1")
	require.NoError(t, err)
	assert.Equal(t, []string{"in_c/users"}, tables)

	require.NoError(t, s.UnmarkTableCopiedFromBranch("p1", "br1", "in_c", "users"))
	inBranch, err = s.IsTableInBranch("p1", "br1", "in_c", "users")
	require.NoError(t, err)
	assert.False(t, inBranch)
}

func TestAPIKeyByPrefixOnlyMatchesLive(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateAPIKey(&types.APIKey{ID: "k1", ProjectID: "p1", KeyPrefix: "sk_abc", KeyHash: "hash1"}))
	found, err := s.GetAPIKeyByPrefix("sk_abc")
	require.NoError(t, err)
	assert.Equal(t, "k1", found.ID)

	require.NoError(t, s.RevokeAPIKey("k1"))
	_, err = s.GetAPIKeyByPrefix("sk_abc")
	assert.Error(t, err)
}

func TestAPIKeyLastUsedIsBestEffort(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateAPIKey(&types.APIKey{ID: "k1", ProjectID: "p1", KeyPrefix: "sk_abc"}))

	// Updating a nonexistent key must not return an error to the caller.
	assert.NoError(t, s.UpdateAPIKeyLastUsed("does-not-exist"))

	assert.NoError(t, s.UpdateAPIKeyLastUsed("k1"))
	got, err := s.GetAPIKey("k1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)
}

func TestPGWireSessionCounting(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreatePGWireSession(&types.PGWireSession{SessionID: "s1", WorkspaceID: "ws1", Status: types.SessionActive, LastActivityAt: time.Now()}))
	require.NoError(t, s.CreatePGWireSession(&types.PGWireSession{SessionID: "s2", WorkspaceID: "ws1", Status: types.SessionActive, LastActivityAt: time.Now()}))
	require.NoError(t, s.CreatePGWireSession(&types.PGWireSession{SessionID: "s3", WorkspaceID: "ws1", Status: types.SessionClientDisconnect, LastActivityAt: time.Now()}))

	count, err := s.CountActivePGWireSessions("ws1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCleanupIdleSessions(t *testing.T) {
	s := newTestStore(t)

	stale := time.Now().Add(-time.Hour)
	fresh := time.Now()

	require.NoError(t, s.CreatePGWireSession(&types.PGWireSession{SessionID: "stale", WorkspaceID: "ws1", Status: types.SessionActive, LastActivityAt: stale}))
	require.NoError(t, s.CreatePGWireSession(&types.PGWireSession{SessionID: "fresh", WorkspaceID: "ws1", Status: types.SessionActive, LastActivityAt: fresh}))

	expired, err := s.CleanupIdleSessions(30 * time.Minute)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].SessionID)

	got, err := s.GetPGWireSession("stale")
	require.NoError(t, err)
	assert.Equal(t, types.SessionTimeout, got.Status)
}

func TestCleanupExpiredSnapshots(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	require.NoError(t, s.CreateSnapshot(&types.Snapshot{ID: "old", ProjectID: "p1", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, s.CreateSnapshot(&types.Snapshot{ID: "fresh", ProjectID: "p1", ExpiresAt: now.Add(time.Hour)}))

	expired, err := s.CleanupExpiredSnapshots(now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)

	_, err = s.GetSnapshot("old")
	assert.Error(t, err)
	_, err = s.GetSnapshot("fresh")
	assert.NoError(t, err)
}

func TestSnapshotConfigHierarchy(t *testing.T) {
	s := newTestStore(t)

	enabled := true
	require.NoError(t, s.PutSnapshotConfig(&types.SnapshotConfig{Scope: types.ScopeSystem, ScopeKey: "", Enabled: &enabled}))

	cfg, err := s.GetSnapshotConfig(types.ScopeSystem, "")
	require.NoError(t, err)
	assert.True(t, *cfg.Enabled)

	_, err = s.GetSnapshotConfig(types.ScopeTable, "p1/in_c/users")
	assert.Error(t, err)
}

func TestBucketLinkRoundtrip(t *testing.T) {
	s := newTestStore(t)

	l := &types.BucketLink{
		TargetProjectID: "p2",
		TargetBucket:    "shared_in",
		SourceProjectID: "p1",
		SourceBucket:    "in_c",
		AttachedDBAlias: "src_p1",
		Views:           []string{"users", "orders"},
	}
	require.NoError(t, s.CreateBucketLink(l))

	got, err := s.GetBucketLink("p2", "shared_in")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.SourceProjectID)
	assert.Equal(t, []string{"users", "orders"}, got.Views)

	require.NoError(t, s.DeleteBucketLink("p2", "shared_in"))
	_, err = s.GetBucketLink("p2", "shared_in")
	assert.Error(t, err)
}

func TestLogOperationNeverFailsCaller(t *testing.T) {
	s := newTestStore(t)

	s.LogOperation(&types.OperationLogEntry{Operation: "create_table", Status: "success", ProjectID: "p1"})
	s.LogOperation(&types.OperationLogEntry{Operation: "drop_table", Status: "failure", ProjectID: "p1"})
	s.LogOperation(&types.OperationLogEntry{Operation: "create_table", Status: "success", ProjectID: "p2"})

	entries, err := s.ListOperations("p1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// ListOperations returns newest first.
	assert.Equal(t, "drop_table", entries[0].Operation)
}
