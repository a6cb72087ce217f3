package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/keboola/storage-core/pkg/auth"
	"github.com/keboola/storage-core/pkg/branch"
	"github.com/keboola/storage-core/pkg/idempotency"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/share"
	"github.com/keboola/storage-core/pkg/snapshot"
	"github.com/keboola/storage-core/pkg/tablelock"
	"github.com/keboola/storage-core/pkg/types"
	"github.com/keboola/storage-core/pkg/workspace"
	"github.com/stretchr/testify/require"
)

const adminKey = "test-admin-key"

type fixture struct {
	handler http.Handler
	store   metadata.Store
	authn   *auth.Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := metadata.NewBoltStore(filepath.Join(root, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idem, err := idempotency.Open(filepath.Join(root, "idempotency.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { idem.Close() })

	paths := pathresolver.New(filepath.Join(root, "data"))
	locks := tablelock.New()
	authn := auth.New(store, adminKey)
	branches := branch.New(store, paths, locks)

	deps := Deps{
		Store:       store,
		Paths:       paths,
		Locks:       locks,
		Auth:        authn,
		Signer:      auth.NewSigner("presign-secret"),
		Branches:    branches,
		Shares:      share.New(store, paths),
		Workspaces:  workspace.New(store, paths, branches, time.Hour, 24*time.Hour),
		Snapshots:   snapshot.New(store, paths, locks),
		Idempotency: idem,
		LockTimeout: 5 * time.Second,
	}
	return &fixture{handler: New(deps), store: store, authn: authn}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// projectKey creates a project-admin scoped API key for projectID and
// returns its plaintext.
func (f *fixture) projectKey(t *testing.T, projectID string) string {
	t.Helper()
	plain, err := auth.GenerateKey()
	require.NoError(t, err)
	hash, err := auth.HashKey(plain)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateAPIKey(&types.APIKey{
		ID: "key_" + projectID, ProjectID: projectID, Scope: types.ScopeProjectAdmin,
		KeyHash: hash, KeyPrefix: auth.KeyPrefix(plain), CreatedAt: time.Now(),
	}))
	return plain
}

func TestCreateProjectRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/projects", "wrong-key", createProjectRequest{DisplayName: "acme"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateProjectAndGetProject(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/projects", adminKey, createProjectRequest{DisplayName: "acme"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created types.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	key := f.projectKey(t, created.ID)
	rec = f.do(t, http.MethodGet, "/projects/"+created.ID, key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateBucketNormalizesName(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateProject(&types.Project{ID: "p1", Status: types.ProjectActive}))
	key := f.projectKey(t, "p1")

	rec := f.do(t, http.MethodPost, "/projects/p1/buckets", key, createBucketRequest{Name: "in.raw-data"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var b types.Bucket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	require.Equal(t, "in_raw_data", b.Name)
}

func TestCreateTableAndPreview(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateProject(&types.Project{ID: "p1", Status: types.ProjectActive}))
	key := f.projectKey(t, "p1")
	require.NoError(t, f.store.CreateBucket(&types.Bucket{ProjectID: "p1", Name: "in", CreatedAt: time.Now()}))

	rec := f.do(t, http.MethodPost, "/projects/p1/branches/main/buckets/in/tables?name=users", key, createTableRequest{
		Columns: []types.Column{{Name: "id", Type: "INTEGER", Nullable: false}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/projects/p1/branches/main/buckets/in/tables/users/preview", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBranchTableWritesCopyOnWriteIsolatesFromMain(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateProject(&types.Project{ID: "p1", Status: types.ProjectActive}))
	key := f.projectKey(t, "p1")
	require.NoError(t, f.store.CreateBucket(&types.Bucket{ProjectID: "p1", Name: "in", CreatedAt: time.Now()}))

	rec := f.do(t, http.MethodPost, "/projects/p1/branches/main/buckets/in/tables?name=users", key, createTableRequest{
		Columns: []types.Column{{Name: "id", Type: "INTEGER", Nullable: false}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/projects/p1/branches", key, createBranchRequest{Name: "dev"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var b types.Branch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))

	rec = f.do(t, http.MethodPost, "/projects/p1/branches/"+b.ID+"/buckets/in/tables/users/columns", key,
		types.Column{Name: "note", Type: "VARCHAR", Nullable: true})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/projects/p1/branches/"+b.ID+"/buckets/in/tables/users/columns", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var branchCols []types.Column
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &branchCols))
	require.Len(t, branchCols, 2)

	// Main never saw the ALTER; the branch's column only exists on its
	// own copy-on-write file.
	rec = f.do(t, http.MethodGet, "/projects/p1/branches/main/buckets/in/tables/users/columns", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mainCols []types.Column
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mainCols))
	require.Len(t, mainCols, 1)
}

func TestDeleteTableTriggersAutoSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateProject(&types.Project{ID: "p1", Status: types.ProjectActive}))
	key := f.projectKey(t, "p1")
	require.NoError(t, f.store.CreateBucket(&types.Bucket{ProjectID: "p1", Name: "in", CreatedAt: time.Now()}))

	rec := f.do(t, http.MethodPost, "/projects/p1/branches/main/buckets/in/tables?name=users", key, createTableRequest{
		Columns: []types.Column{{Name: "id", Type: "INTEGER", Nullable: false}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The system default trigger for drop_table is enabled, so dropping
	// the table must leave behind an auto_predrop snapshot.
	rec = f.do(t, http.MethodDelete, "/projects/p1/branches/main/buckets/in/tables/users", key, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	snaps, err := f.store.ListSnapshots("p1", "in", "users")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, types.SnapshotAutoPreDrop, snaps[0].SnapshotType)
}

func TestIdempotentReplaySameBody(t *testing.T) {
	f := newFixture(t)
	req := createProjectRequest{DisplayName: "acme"}

	first := httptest.NewRequest(http.MethodPost, "/projects", jsonBody(t, req))
	first.Header.Set("Authorization", "Bearer "+adminKey)
	first.Header.Set("X-Idempotency-Key", "idem-1")
	rec1 := httptest.NewRecorder()
	f.handler.ServeHTTP(rec1, first)
	require.Equal(t, http.StatusCreated, rec1.Code)

	second := httptest.NewRequest(http.MethodPost, "/projects", jsonBody(t, req))
	second.Header.Set("Authorization", "Bearer "+adminKey)
	second.Header.Set("X-Idempotency-Key", "idem-1")
	rec2 := httptest.NewRecorder()
	f.handler.ServeHTTP(rec2, second)
	require.Equal(t, http.StatusCreated, rec2.Code)
	require.Equal(t, "true", rec2.Header().Get("Idempotency-Replayed"))
	require.JSONEq(t, rec1.Body.String(), rec2.Body.String())

	projects, err := f.store.ListProjects()
	require.NoError(t, err)
	require.Len(t, projects, 1)
}

func TestIdempotentConflictOnDifferentBody(t *testing.T) {
	f := newFixture(t)
	first := httptest.NewRequest(http.MethodPost, "/projects", jsonBody(t, createProjectRequest{DisplayName: "acme"}))
	first.Header.Set("Authorization", "Bearer "+adminKey)
	first.Header.Set("X-Idempotency-Key", "idem-2")
	rec1 := httptest.NewRecorder()
	f.handler.ServeHTTP(rec1, first)
	require.Equal(t, http.StatusCreated, rec1.Code)

	second := httptest.NewRequest(http.MethodPost, "/projects", jsonBody(t, createProjectRequest{DisplayName: "other"}))
	second.Header.Set("Authorization", "Bearer "+adminKey)
	second.Header.Set("X-Idempotency-Key", "idem-2")
	rec2 := httptest.NewRecorder()
	f.handler.ServeHTTP(rec2, second)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestDriverCommandCreateBucket(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateProject(&types.Project{ID: "p1", Status: types.ProjectActive}))
	key := f.projectKey(t, "p1")

	envelope := map[string]interface{}{
		"command": map[string]interface{}{
			"type":       "CreateBucketCommand",
			"project_id": "p1",
			"bucket":     "in.data",
		},
	}
	rec := f.do(t, http.MethodPost, "/driver/command", key, envelope)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp driverResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "CreateBucketResponse", resp.CommandResponse["@type"])
}

func TestDriverCommandUnknownTypeReturnsValidationError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateProject(&types.Project{ID: "p1", Status: types.ProjectActive}))
	key := f.projectKey(t, "p1")

	envelope := map[string]interface{}{
		"command": map[string]interface{}{"type": "DoesNotExistCommand", "project_id": "p1"},
	}
	rec := f.do(t, http.MethodPost, "/driver/command", key, envelope)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}
