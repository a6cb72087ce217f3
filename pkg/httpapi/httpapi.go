package httpapi

import (
	"net/http"
	"time"

	"github.com/keboola/storage-core/pkg/auth"
	"github.com/keboola/storage-core/pkg/branch"
	"github.com/keboola/storage-core/pkg/idempotency"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/metrics"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/share"
	"github.com/keboola/storage-core/pkg/snapshot"
	"github.com/keboola/storage-core/pkg/tablelock"
	"github.com/keboola/storage-core/pkg/workspace"
)

// Deps are every component Server dispatches into. cmd/storagecored
// assembles one of these via pkg/platform and hands it to New.
type Deps struct {
	Store       metadata.Store
	Paths       *pathresolver.Resolver
	Locks       *tablelock.Manager
	Auth        *auth.Authenticator
	Signer      *auth.Signer
	Branches    *branch.Engine
	Shares      *share.Engine
	Workspaces  *workspace.Engine
	Snapshots   *snapshot.Engine
	Idempotency *idempotency.Store
	LockTimeout time.Duration
}

// Server holds the wired dependencies behind the HTTP handlers.
type Server struct {
	deps  Deps
	files *fileStaging
}

// New returns the storage core's HTTP control-plane mux.
func New(deps Deps) http.Handler {
	s := &Server{deps: deps, files: newFileStaging(deps.Paths.DataRoot())}
	mux := http.NewServeMux()

	// Admin / backend lifecycle.
	mux.HandleFunc("POST /backend/init", s.withMiddleware("backend_init", s.adminOnly(s.handleBackendInit)))

	// Projects.
	mux.HandleFunc("GET /projects", s.withMiddleware("list_projects", s.requireAdmin(s.handleListProjects)))
	mux.HandleFunc("POST /projects", s.withMiddleware("create_project", s.requireAdmin(s.handleCreateProject)))
	mux.HandleFunc("GET /projects/{pid}", s.withMiddleware("get_project", s.requireProject(s.handleGetProject)))
	mux.HandleFunc("DELETE /projects/{pid}", s.withMiddleware("delete_project", s.requireAdmin(s.handleDeleteProject)))

	// Buckets.
	mux.HandleFunc("GET /projects/{pid}/buckets", s.withMiddleware("list_buckets", s.requireProject(s.handleListBuckets)))
	mux.HandleFunc("POST /projects/{pid}/buckets", s.withMiddleware("create_bucket", s.requireProject(s.handleCreateBucket)))
	mux.HandleFunc("GET /projects/{pid}/buckets/{bucket}", s.withMiddleware("get_bucket", s.requireProject(s.handleGetBucket)))
	mux.HandleFunc("DELETE /projects/{pid}/buckets/{bucket}", s.withMiddleware("delete_bucket", s.requireProject(s.handleDeleteBucket)))

	// Bucket sharing.
	mux.HandleFunc("POST /projects/{pid}/buckets/{bucket}/share", s.withMiddleware("share_bucket", s.requireProject(s.handleShareBucket)))
	mux.HandleFunc("POST /projects/{pid}/buckets/{bucket}/unshare", s.withMiddleware("unshare_bucket", s.requireProject(s.handleUnshareBucket)))
	mux.HandleFunc("POST /projects/{pid}/buckets/{bucket}/link", s.withMiddleware("link_bucket", s.requireProject(s.handleLinkBucket)))
	mux.HandleFunc("POST /projects/{pid}/buckets/{bucket}/unlink", s.withMiddleware("unlink_bucket", s.requireProject(s.handleUnlinkBucket)))

	// Tables. Nested under a branch (literal "main" stands for the
	// project's main branch) so every write runs through
	// ensure_table_in_branch copy-on-write before it touches a file.
	mux.HandleFunc("GET /projects/{pid}/branches/{bid}/buckets/{bucket}/tables", s.withMiddleware("list_tables", s.requireBranch(s.handleListTables)))
	mux.HandleFunc("POST /projects/{pid}/branches/{bid}/buckets/{bucket}/tables", s.withMiddleware("create_table", s.requireBranch(s.handleCreateTable)))
	mux.HandleFunc("GET /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}", s.withMiddleware("get_table", s.requireBranch(s.handleGetTable)))
	mux.HandleFunc("DELETE /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}", s.withMiddleware("delete_table", s.requireBranch(s.handleDeleteTable)))
	mux.HandleFunc("GET /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/preview", s.withMiddleware("preview_table", s.requireBranch(s.handlePreviewTable)))
	mux.HandleFunc("GET /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/columns", s.withMiddleware("list_columns", s.requireBranch(s.handleListColumns)))
	mux.HandleFunc("POST /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/columns", s.withMiddleware("add_column", s.requireBranch(s.handleAddColumn)))
	mux.HandleFunc("DELETE /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/columns/{column}", s.withMiddleware("drop_column", s.requireBranch(s.handleDropColumn)))
	mux.HandleFunc("PATCH /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/columns/{column}", s.withMiddleware("alter_column", s.requireBranch(s.handleAlterColumn)))
	mux.HandleFunc("PUT /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/primary-key", s.withMiddleware("set_primary_key", s.requireBranch(s.handleSetPrimaryKey)))
	mux.HandleFunc("DELETE /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/primary-key", s.withMiddleware("drop_primary_key", s.requireBranch(s.handleDropPrimaryKey)))
	mux.HandleFunc("DELETE /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/rows", s.withMiddleware("delete_rows", s.requireBranch(s.handleDeleteRows)))
	mux.HandleFunc("POST /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/import", s.withMiddleware("import_table", s.requireBranch(s.handleImportTable)))
	mux.HandleFunc("POST /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/export", s.withMiddleware("export_table", s.requireBranch(s.handleExportTable)))
	mux.HandleFunc("GET /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/profile", s.withMiddleware("profile_table", s.requireBranch(s.handleProfileTable)))

	// File staging (3-stage upload feeding ImportFromFile).
	mux.HandleFunc("POST /files/prepare", s.withMiddleware("files_prepare", s.requireDriver(s.handleFilesPrepare)))
	mux.HandleFunc("PUT /files/{file_id}", s.withMiddleware("files_upload", s.requireDriver(s.handleFilesUpload)))
	mux.HandleFunc("POST /files/{file_id}/register", s.withMiddleware("files_register", s.requireDriver(s.handleFilesRegister)))
	mux.HandleFunc("GET /files/{file_id}", s.withMiddleware("files_download", s.requireDriver(s.handleFilesDownload)))

	// Branches.
	mux.HandleFunc("GET /projects/{pid}/branches", s.withMiddleware("list_branches", s.requireProject(s.handleListBranches)))
	mux.HandleFunc("POST /projects/{pid}/branches", s.withMiddleware("create_branch", s.requireProject(s.handleCreateBranch)))
	mux.HandleFunc("GET /projects/{pid}/branches/{bid}", s.withMiddleware("get_branch", s.requireBranch(s.handleGetBranch)))
	mux.HandleFunc("DELETE /projects/{pid}/branches/{bid}", s.withMiddleware("delete_branch", s.requireBranch(s.handleDeleteBranch)))
	mux.HandleFunc("POST /projects/{pid}/branches/{bid}/buckets/{bucket}/tables/{table}/pull", s.withMiddleware("pull_branch_table", s.requireBranch(s.handlePullBranchTable)))

	// Workspaces.
	mux.HandleFunc("GET /projects/{pid}/workspaces", s.withMiddleware("list_workspaces", s.requireProject(s.handleListWorkspaces)))
	mux.HandleFunc("POST /projects/{pid}/workspaces", s.withMiddleware("create_workspace", s.requireProject(s.handleCreateWorkspace)))
	mux.HandleFunc("GET /workspaces/{wid}", s.withMiddleware("get_workspace", s.requireDriver(s.handleGetWorkspace)))
	mux.HandleFunc("DELETE /workspaces/{wid}", s.withMiddleware("delete_workspace", s.requireDriver(s.handleDeleteWorkspace)))
	mux.HandleFunc("POST /workspaces/{wid}/clear", s.withMiddleware("clear_workspace", s.requireDriver(s.handleClearWorkspace)))
	mux.HandleFunc("POST /workspaces/{wid}/load-tables", s.withMiddleware("load_tables", s.requireDriver(s.handleLoadTables)))
	mux.HandleFunc("DELETE /workspaces/{wid}/objects/{object}", s.withMiddleware("drop_object", s.requireDriver(s.handleDropObject)))
	mux.HandleFunc("POST /workspaces/{wid}/credentials/reset", s.withMiddleware("reset_credentials", s.requireDriver(s.handleResetCredentials)))

	// Snapshots + hierarchical settings.
	mux.HandleFunc("GET /projects/{pid}/snapshots", s.withMiddleware("list_snapshots", s.requireProject(s.handleListSnapshots)))
	mux.HandleFunc("POST /projects/{pid}/buckets/{bucket}/tables/{table}/snapshots", s.withMiddleware("create_snapshot", s.requireProject(s.handleCreateSnapshot)))
	mux.HandleFunc("GET /snapshots/{sid}", s.withMiddleware("get_snapshot", s.requireDriver(s.handleGetSnapshot)))
	mux.HandleFunc("DELETE /snapshots/{sid}", s.withMiddleware("delete_snapshot", s.requireDriver(s.handleDeleteSnapshot)))
	mux.HandleFunc("POST /snapshots/{sid}/restore", s.withMiddleware("restore_snapshot", s.requireDriver(s.handleRestoreSnapshot)))

	mux.HandleFunc("GET /projects/{pid}/settings/snapshots", s.withMiddleware("get_snapshot_settings", s.requireProject(s.handleGetSnapshotSettings)))
	mux.HandleFunc("PUT /projects/{pid}/settings/snapshots", s.withMiddleware("put_snapshot_settings", s.requireProject(s.handlePutSnapshotSettings)))
	mux.HandleFunc("GET /projects/{pid}/buckets/{bucket}/settings/snapshots", s.withMiddleware("get_snapshot_settings", s.requireProject(s.handleGetSnapshotSettings)))
	mux.HandleFunc("PUT /projects/{pid}/buckets/{bucket}/settings/snapshots", s.withMiddleware("put_snapshot_settings", s.requireProject(s.handlePutSnapshotSettings)))
	mux.HandleFunc("GET /projects/{pid}/buckets/{bucket}/tables/{table}/settings/snapshots", s.withMiddleware("get_snapshot_settings", s.requireProject(s.handleGetSnapshotSettings)))
	mux.HandleFunc("PUT /projects/{pid}/buckets/{bucket}/tables/{table}/settings/snapshots", s.withMiddleware("put_snapshot_settings", s.requireProject(s.handlePutSnapshotSettings)))

	// Internal PG-wire session admin.
	mux.HandleFunc("POST /internal/pgwire/auth", s.withMiddleware("pgwire_auth", s.adminOnly(s.handlePGWireAuth)))
	mux.HandleFunc("GET /internal/pgwire/sessions", s.withMiddleware("list_pgwire_sessions", s.adminOnly(s.handleListPGWireSessions)))
	mux.HandleFunc("PATCH /internal/pgwire/sessions/{sessid}", s.withMiddleware("patch_pgwire_session", s.adminOnly(s.handlePatchPGWireSession)))
	mux.HandleFunc("DELETE /internal/pgwire/sessions/{sessid}", s.withMiddleware("delete_pgwire_session", s.adminOnly(s.handleDeletePGWireSession)))
	mux.HandleFunc("POST /internal/pgwire/cleanup", s.withMiddleware("cleanup_pgwire_sessions", s.adminOnly(s.handleCleanupPGWireSessions)))

	// Driver bridge envelope.
	mux.HandleFunc("POST /driver/command", s.withMiddleware("driver_command", s.handleDriverCommand))

	mux.Handle("/metrics", metrics.Handler())

	return mux
}
