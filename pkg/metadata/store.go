package metadata

import (
	"time"

	"github.com/keboola/storage-core/pkg/types"
)

// Store is the durable serializable catalog every other component
// reads and writes through. Each method is one logical
// transaction; a failing call leaves the store unchanged.
type Store interface {
	// Projects
	CreateProject(p *types.Project) error
	GetProject(id string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	UpdateProject(p *types.Project) error
	DeleteProject(id string) error

	// Buckets
	CreateBucket(b *types.Bucket) error
	GetBucket(projectID, name string) (*types.Bucket, error)
	ListBuckets(projectID string) ([]*types.Bucket, error)
	DeleteBucket(projectID, name string) error

	// Tables
	CreateTable(t *types.Table) error
	GetTable(projectID, bucket, table string) (*types.Table, error)
	ListTables(projectID, bucket string) ([]*types.Table, error)
	UpdateTable(t *types.Table) error
	DeleteTable(projectID, bucket, table string) error

	// Branches
	CreateBranch(b *types.Branch) error
	GetBranch(projectID, branchID string) (*types.Branch, error)
	ListBranches(projectID string) ([]*types.Branch, error)
	UpdateBranch(b *types.Branch) error
	DeleteBranch(projectID, branchID string) error
	GetBranchTables(projectID, branchID string) ([]string, error)
	IsTableInBranch(projectID, branchID, bucket, table string) (bool, error)
	MarkTableCopiedToBranch(projectID, branchID, bucket, table string) error
	UnmarkTableCopiedFromBranch(projectID, branchID, bucket, table string) error

	// API keys
	CreateAPIKey(k *types.APIKey) error
	GetAPIKey(id string) (*types.APIKey, error)
	GetAPIKeyByPrefix(prefix string) (*types.APIKey, error)
	ListAPIKeys(projectID string) ([]*types.APIKey, error)
	UpdateAPIKeyLastUsed(id string) error
	RevokeAPIKey(id string) error
	DeleteAPIKey(id string) error

	// Workspaces
	CreateWorkspace(w *types.Workspace) error
	GetWorkspace(id string) (*types.Workspace, error)
	ListWorkspaces(projectID string) ([]*types.Workspace, error)
	UpdateWorkspace(w *types.Workspace) error
	DeleteWorkspace(id string) error

	// Workspace credentials (one live credential per workspace)
	PutWorkspaceCredential(c *types.WorkspaceCredential) error
	GetWorkspaceCredential(workspaceID string) (*types.WorkspaceCredential, error)
	GetWorkspaceCredentialByUsername(username string) (*types.WorkspaceCredential, error)
	DeleteWorkspaceCredential(workspaceID string) error

	// PG-wire sessions
	CreatePGWireSession(s *types.PGWireSession) error
	GetPGWireSession(id string) (*types.PGWireSession, error)
	ListPGWireSessions(workspaceID string) ([]*types.PGWireSession, error)
	UpdatePGWireSession(s *types.PGWireSession) error
	DeletePGWireSession(id string) error
	CountActivePGWireSessions(workspaceID string) (int, error)
	CleanupIdleSessions(threshold time.Duration) ([]*types.PGWireSession, error)

	// Bucket sharing
	CreateBucketShare(s *types.BucketShare) error
	GetBucketShare(sourceProjectID, sourceBucket, targetProjectID string) (*types.BucketShare, error)
	ListBucketShares(sourceProjectID, sourceBucket string) ([]*types.BucketShare, error)
	DeleteBucketShare(sourceProjectID, sourceBucket, targetProjectID string) error

	CreateBucketLink(l *types.BucketLink) error
	GetBucketLink(targetProjectID, targetBucket string) (*types.BucketLink, error)
	ListBucketLinks(targetProjectID string) ([]*types.BucketLink, error)
	DeleteBucketLink(targetProjectID, targetBucket string) error

	// Snapshots
	CreateSnapshot(s *types.Snapshot) error
	GetSnapshot(id string) (*types.Snapshot, error)
	ListSnapshots(projectID, bucket, table string) ([]*types.Snapshot, error)
	DeleteSnapshot(id string) error
	CleanupExpiredSnapshots(now time.Time) ([]*types.Snapshot, error)

	// Snapshot config (hierarchical overrides)
	PutSnapshotConfig(c *types.SnapshotConfig) error
	GetSnapshotConfig(scope types.ConfigScope, scopeKey string) (*types.SnapshotConfig, error)
	DeleteSnapshotConfig(scope types.ConfigScope, scopeKey string) error

	// Operations log
	LogOperation(entry *types.OperationLogEntry)
	ListOperations(projectID string, limit int) ([]*types.OperationLogEntry, error)

	Close() error
}
