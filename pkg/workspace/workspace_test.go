package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/branch"
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
	branches := branch.New(store, paths, tablelock.New())
	return &fixture{eng: New(store, paths, branches, 4*time.Hour, 72*time.Hour), paths: paths, store: store}
}

func (f *fixture) createSourceTableWithRows(t *testing.T, projectID, bucket, table string, rows int) {
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
	for i := 0; i < rows; i++ {
		_, err := e.Exec(context.Background(), "INSERT INTO data VALUES (?)", i)
		require.NoError(t, err)
	}
}

func TestCreateMintsWorkspaceAndCredential(t *testing.T) {
	f := newFixture(t)
	result, err := f.eng.Create(CreateParams{ProjectID: "p1", Name: "scratch", SizeLimitBytes: 1 << 30})
	require.NoError(t, err)

	assert.True(t, len(result.Password) > 0)
	assert.Contains(t, result.Username, result.Workspace.ID)
	assert.FileExists(t, result.Workspace.DBPath)

	cred, err := f.store.GetWorkspaceCredential(result.Workspace.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Username, cred.Username)
	assert.NotEqual(t, result.Password, cred.PasswordHash)
}

func TestCreateClampsTTLToMax(t *testing.T) {
	f := newFixture(t)
	requested := 1000 * time.Hour
	result, err := f.eng.Create(CreateParams{ProjectID: "p1", Name: "scratch", TTL: &requested})
	require.NoError(t, err)

	assert.True(t, result.Workspace.ExpiresAt.Before(time.Now().Add(73*time.Hour)))
}

func TestGetDerivesExpiredStatus(t *testing.T) {
	f := newFixture(t)
	result, err := f.eng.Create(CreateParams{ProjectID: "p1", Name: "scratch"})
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	ws := result.Workspace
	ws.ExpiresAt = &past
	require.NoError(t, f.store.UpdateWorkspace(ws))

	got, err := f.eng.Get(ws.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkspaceExpired, got.Status)
}

func TestDeleteCascadesCredentialAndSessions(t *testing.T) {
	f := newFixture(t)
	result, err := f.eng.Create(CreateParams{ProjectID: "p1", Name: "scratch"})
	require.NoError(t, err)
	id := result.Workspace.ID

	require.NoError(t, f.store.CreatePGWireSession(&types.PGWireSession{
		SessionID: "sess1", WorkspaceID: id, Status: types.SessionActive, ConnectedAt: time.Now(), LastActivityAt: time.Now(),
	}))

	require.NoError(t, f.eng.Delete(id))

	_, err = f.store.GetWorkspace(id)
	assert.Error(t, err)
	_, err = f.store.GetWorkspaceCredential(id)
	assert.Error(t, err)
	sessions, err := f.store.ListPGWireSessions(id)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, statErr := os.Stat(result.Workspace.DBPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestResetCredentialsKeepsUsername(t *testing.T) {
	f := newFixture(t)
	result, err := f.eng.Create(CreateParams{ProjectID: "p1", Name: "scratch"})
	require.NoError(t, err)

	newPassword, err := f.eng.ResetCredentials(result.Workspace.ID)
	require.NoError(t, err)
	assert.NotEqual(t, result.Password, newPassword)

	cred, err := f.store.GetWorkspaceCredential(result.Workspace.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Username, cred.Username)
}

func TestLoadTablesMissingSourceYieldsZeroRows(t *testing.T) {
	f := newFixture(t)
	result, err := f.eng.Create(CreateParams{ProjectID: "p1", Name: "scratch"})
	require.NoError(t, err)

	loadResult, err := f.eng.LoadTables(context.Background(), result.Workspace.ID, []LoadTableSpec{
		{Source: "bucket1.missing_table"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, loadResult.RowsLoaded["missing_table"])
}

func TestLoadTablesCopiesRows(t *testing.T) {
	f := newFixture(t)
	f.createSourceTableWithRows(t, "p1", "bucket1", "users", 3)

	result, err := f.eng.Create(CreateParams{ProjectID: "p1", Name: "scratch"})
	require.NoError(t, err)

	loadResult, err := f.eng.LoadTables(context.Background(), result.Workspace.ID, []LoadTableSpec{
		{Source: "bucket1.users", Destination: "local_users"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, loadResult.RowsLoaded["local_users"])
}

func TestLoadTablesFallsBackToMainForUncopiedBranchTable(t *testing.T) {
	f := newFixture(t)
	f.createSourceTableWithRows(t, "p1", "bucket1", "users", 3)

	result, err := f.eng.Create(CreateParams{ProjectID: "p1", BranchID: "br1", Name: "scratch"})
	require.NoError(t, err)

	// "users" only exists under main; this branch has never written to
	// it, so there's no copy-on-write file under br1 yet. load_tables
	// must still find it via main rather than reporting zero rows.
	loadResult, err := f.eng.LoadTables(context.Background(), result.Workspace.ID, []LoadTableSpec{
		{Source: "bucket1.users", Destination: "local_users"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, loadResult.RowsLoaded["local_users"])
}

func TestDropObjectIgnoresMissingWhenRequested(t *testing.T) {
	f := newFixture(t)
	result, err := f.eng.Create(CreateParams{ProjectID: "p1", Name: "scratch"})
	require.NoError(t, err)

	err = f.eng.DropObject(context.Background(), result.Workspace.ID, "never_existed", true)
	assert.NoError(t, err)
}

func TestSplitSourceRejectsMalformed(t *testing.T) {
	_, _, err := splitSource("no_dot_here")
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}
