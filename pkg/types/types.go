// Package types defines the entities of the storage core's data model
// projects, buckets, tables, branches, API keys, workspaces,
// PG-wire sessions, bucket shares/links, snapshots and their hierarchical
// config, and operations-log entries. These are plain data structs; the
// behavior that creates, mutates and retires them lives in pkg/metadata,
// pkg/branch, pkg/snapshot, pkg/workspace and pkg/auth.
package types

import "time"

// ProjectStatus is the lifecycle state of a Project.
type ProjectStatus string

const (
	ProjectActive  ProjectStatus = "active"
	ProjectDeleted ProjectStatus = "deleted"
)

// Project is the top-level tenant unit.
type Project struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"display_name"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Bucket is a namespace of tables within a project. Name is normalized
// by replacing '.' and '-' with '_' before storage.
type Bucket struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Column describes one column of a table's schema.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
	Ordinal  int     `json:"ordinal"`
}

// Table is the catalog record for one `{table}.duckdb` file. The file is
// the source of truth for existence; this record caches schema and size
// so listing tables doesn't require opening every file.
type Table struct {
	ProjectID     string    `json:"project_id"`
	BucketName    string    `json:"bucket_name"`
	TableName     string    `json:"table_name"`
	Columns       []Column  `json:"columns"`
	PrimaryKey    []string  `json:"primary_key,omitempty"`
	RowCount      int64     `json:"row_count"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Branch is a logical fork of a project's data with lazy copy-on-write
// table copies.
type Branch struct {
	ID           string    `json:"id"` // 8-char short id
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CopiedTables []string  `json:"copied_tables"` // "bucket/table" entries
}

// HasCopiedTable reports whether bucket/table has been copy-on-write'd
// into this branch already.
func (b *Branch) HasCopiedTable(bucket, table string) bool {
	key := bucket + "/" + table
	for _, t := range b.CopiedTables {
		if t == key {
			return true
		}
	}
	return false
}

// APIKeyScope is the authorization scope bound to an API key.
type APIKeyScope string

const (
	ScopeProjectAdmin APIKeyScope = "project_admin"
	ScopeBranchAdmin  APIKeyScope = "branch_admin"
	ScopeBranchRead   APIKeyScope = "branch_read"
)

// APIKey is a hashed credential bound to a project and, optionally, a
// single branch. The admin key is not stored here — it
// is a process-wide secret compared constant-time against verify_admin.
type APIKey struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	BranchID    string      `json:"branch_id,omitempty"`
	Scope       APIKeyScope `json:"scope"`
	KeyHash     string      `json:"key_hash"`
	KeyPrefix   string      `json:"key_prefix"`
	Description string      `json:"description,omitempty"`
	Revoked     bool        `json:"revoked"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time  `json:"last_used_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Live reports whether the key can still authenticate: not revoked and
// not expired as of now.
func (k *APIKey) Live(now time.Time) bool {
	if k.Revoked {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}

// WorkspaceStatus is the lifecycle state of a Workspace.
type WorkspaceStatus string

const (
	WorkspaceActive  WorkspaceStatus = "active"
	WorkspaceError   WorkspaceStatus = "error"
	WorkspaceDeleted WorkspaceStatus = "deleted"
	// WorkspaceExpired is never stored; Workspace.EffectiveStatus derives
	// it from ExpiresAt at read time.
	WorkspaceExpired WorkspaceStatus = "expired"
)

// Workspace is an isolated SQL sandbox that attaches project tables
// read-only.
type Workspace struct {
	ID             string          `json:"id"` // "ws_" prefixed
	ProjectID      string          `json:"project_id"`
	BranchID       string          `json:"branch_id,omitempty"`
	Name           string          `json:"name"`
	DBPath         string          `json:"db_path"`
	SizeLimitBytes int64           `json:"size_limit_bytes"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Status         WorkspaceStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EffectiveStatus derives the status a caller should observe, turning an
// active-but-past-expiry workspace into "expired" without a stored write.
func (w *Workspace) EffectiveStatus(now time.Time) WorkspaceStatus {
	if w.Status == WorkspaceActive && w.ExpiresAt != nil && now.After(*w.ExpiresAt) {
		return WorkspaceExpired
	}
	return w.Status
}

// WorkspaceCredential is the single live credential record for a
// workspace. The plaintext password is never persisted.
type WorkspaceCredential struct {
	WorkspaceID  string    `json:"workspace_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// PGWireSessionStatus is the terminal or current state of a wire session.
type PGWireSessionStatus string

const (
	SessionActive            PGWireSessionStatus = "active"
	SessionClientDisconnect  PGWireSessionStatus = "client_disconnect"
	SessionTimeout           PGWireSessionStatus = "timeout"
	SessionServerDrain       PGWireSessionStatus = "server_drain"
)

// PGWireSession tracks one live or historical wire-protocol connection
//.
type PGWireSession struct {
	SessionID      string              `json:"session_id"`
	WorkspaceID    string              `json:"workspace_id"`
	ClientIP       string              `json:"client_ip"`
	ConnectedAt    time.Time           `json:"connected_at"`
	LastActivityAt time.Time           `json:"last_activity_at"`
	QueryCount     int64               `json:"query_count"`
	Status         PGWireSessionStatus `json:"status"`
}

// BucketShareType names the kind of cross-project exposure a share grants.
type BucketShareType string

const (
	ShareTypeReadOnly BucketShareType = "read_only"
)

// BucketShare records that a project has exposed a bucket to another
// project for linking.
type BucketShare struct {
	SourceProjectID string          `json:"source_project_id"`
	SourceBucket    string          `json:"source_bucket"`
	TargetProjectID string          `json:"target_project_id"`
	ShareType       BucketShareType `json:"share_type"`
	CreatedAt       time.Time       `json:"created_at"`
}

// BucketLink is the target-side read-only attachment of a shared source
// bucket, plus the view projection it produced.
type BucketLink struct {
	TargetProjectID string    `json:"target_project_id"`
	TargetBucket    string    `json:"target_bucket"`
	SourceProjectID string    `json:"source_project_id"`
	SourceBucket    string    `json:"source_bucket"`
	AttachedDBAlias string    `json:"attached_db_alias"`
	Views           []string  `json:"views"`
	CreatedAt       time.Time `json:"created_at"`
}

// SnapshotType identifies what triggered a snapshot.
type SnapshotType string

const (
	SnapshotManual              SnapshotType = "manual"
	SnapshotAutoPreDrop         SnapshotType = "auto_predrop"
	SnapshotAutoPreTruncate     SnapshotType = "auto_pretruncate"
	SnapshotAutoPreDeleteAll    SnapshotType = "auto_predelete_all"
	SnapshotAutoPreDropColumn   SnapshotType = "auto_predrop_column"
)

// Snapshot is an immutable copy of a table file at a point in time
//.
type Snapshot struct {
	ID                string       `json:"id"`
	ProjectID         string       `json:"project_id"`
	BranchID          string       `json:"branch_id,omitempty"`
	Bucket            string       `json:"bucket"`
	Table             string       `json:"table"`
	SnapshotType      SnapshotType `json:"snapshot_type"`
	CreatedAt         time.Time    `json:"created_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
	RowCountAtCapture int64        `json:"row_count_at_capture"`
	Description       string       `json:"description,omitempty"`
	FilePath          string       `json:"file_path"`
}

// ConfigScope is a level in the hierarchical snapshot-config chain,
// ordered most-specific first.
type ConfigScope string

const (
	ScopeTable   ConfigScope = "table"
	ScopeBucket  ConfigScope = "bucket"
	ScopeProject ConfigScope = "project"
	ScopeSystem  ConfigScope = "system"
)

// ScopeChain lists scopes from most to least specific, the order
// hierarchical resolution walks.
var ScopeChain = []ConfigScope{ScopeTable, ScopeBucket, ScopeProject, ScopeSystem}

// SnapshotConfig is a partial, scope-bound override of the snapshot
// engine's defaults. Nil fields mean "not set at this scope" and fall
// through to the next scope in ScopeChain.
type SnapshotConfig struct {
	Scope    ConfigScope `json:"scope"`
	ScopeKey string      `json:"scope_key"` // "" for system, pid / pid/bucket / pid/bucket/table otherwise

	Enabled             *bool `json:"enabled,omitempty"`
	RetentionManualDays *int  `json:"retention_manual_days,omitempty"`
	RetentionAutoDays   *int  `json:"retention_auto_days,omitempty"`

	TriggerDropTable      *bool `json:"trigger_drop_table,omitempty"`
	TriggerDropColumn     *bool `json:"trigger_drop_column,omitempty"`
	TriggerTruncateTable  *bool `json:"trigger_truncate_table,omitempty"`
	TriggerDeleteAllRows  *bool `json:"trigger_delete_all_rows,omitempty"`
}

// OperationLogEntry is one append-only row of the operations log
//.
type OperationLogEntry struct {
	ID           int64                  `json:"id"`
	Operation    string                 `json:"operation"`
	Status       string                 `json:"status"` // success, failure
	ProjectID    string                 `json:"project_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	DurationMs   int64                  `json:"duration_ms"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}
