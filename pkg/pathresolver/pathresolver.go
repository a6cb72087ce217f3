// Package pathresolver maps logical identifiers (project, bucket,
// table, branch, workspace, snapshot) onto the deterministic on-disk
// layout the storage core uses as the sole source of truth about
// physical table existence. It holds no state and talks to no I/O —
// every method is a pure function of a data root plus identifiers.
package pathresolver

import (
	"path/filepath"
	"strings"

	"github.com/keboola/storage-core/pkg/apierr"
)

// Resolver resolves logical identifiers to filesystem paths rooted at
// a single data directory.
type Resolver struct {
	dataRoot string
}

// New returns a Resolver rooted at "<dataRoot>/duckdb"; the layouts
// below write that root as <data_root>.
func New(dataRoot string) *Resolver {
	return &Resolver{dataRoot: filepath.Join(dataRoot, "duckdb")}
}

// ValidateSegment enforces that id is a single path segment: no slash,
// no "..", no NUL byte, not empty.
func ValidateSegment(name, id string) error {
	if id == "" {
		return apierr.Validation("%s must not be empty", name)
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return apierr.Validation("%s must be a single path segment: %q", name, id)
	}
	if id == "." || id == ".." {
		return apierr.Validation("%s must not be '.' or '..': %q", name, id)
	}
	return nil
}

// ProjectDir returns the main-branch directory for a project:
// <data_root>/project_<pid>.
func (r *Resolver) ProjectDir(projectID string) (string, error) {
	if err := ValidateSegment("project_id", projectID); err != nil {
		return "", err
	}
	return filepath.Join(r.dataRoot, "project_"+projectID), nil
}

// BranchDir returns the effective project directory for a branch:
// <data_root>/project_<pid>_branch_<bid>. Only tables copied-on-write
// into the branch live here; everything else is read through
// ProjectDir.
func (r *Resolver) BranchDir(projectID, branchID string) (string, error) {
	if err := ValidateSegment("project_id", projectID); err != nil {
		return "", err
	}
	if err := ValidateSegment("branch_id", branchID); err != nil {
		return "", err
	}
	return filepath.Join(r.dataRoot, "project_"+projectID+"_branch_"+branchID), nil
}

// EffectiveDir is ProjectDir when branchID is empty, BranchDir otherwise.
func (r *Resolver) EffectiveDir(projectID, branchID string) (string, error) {
	if branchID == "" {
		return r.ProjectDir(projectID)
	}
	return r.BranchDir(projectID, branchID)
}

// BucketDir returns <effective_dir>/<bucket_name>.
func (r *Resolver) BucketDir(projectID, branchID, bucket string) (string, error) {
	if err := ValidateSegment("bucket", bucket); err != nil {
		return "", err
	}
	base, err := r.EffectiveDir(projectID, branchID)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, bucket), nil
}

// TablePath returns <effective_dir>/<bucket_name>/<table_name>.duckdb.
func (r *Resolver) TablePath(projectID, branchID, bucket, table string) (string, error) {
	if err := ValidateSegment("table", table); err != nil {
		return "", err
	}
	dir, err := r.BucketDir(projectID, branchID, bucket)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, table+".duckdb"), nil
}

// MainTablePath always resolves against the project's main branch,
// used when the branch engine needs to read the source-of-truth file
// to copy it on write.
func (r *Resolver) MainTablePath(projectID, bucket, table string) (string, error) {
	return r.TablePath(projectID, "", bucket, table)
}

// WorkspacesDir returns the directory holding ephemeral workspace
// files for a project (or branch, if non-empty): <effective_dir>/_workspaces.
func (r *Resolver) WorkspacesDir(projectID, branchID string) (string, error) {
	base, err := r.EffectiveDir(projectID, branchID)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "_workspaces"), nil
}

// WorkspacePath returns the .duckdb file backing one workspace.
func (r *Resolver) WorkspacePath(projectID, branchID, workspaceID string) (string, error) {
	if err := ValidateSegment("workspace_id", workspaceID); err != nil {
		return "", err
	}
	dir, err := r.WorkspacesDir(projectID, branchID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, workspaceID+".duckdb"), nil
}

// SnapshotsDir returns <data_root>/_snapshots, a single pool shared by
// all projects — snapshot ids are globally unique.
func (r *Resolver) SnapshotsDir() string {
	return filepath.Join(r.dataRoot, "_snapshots")
}

// SnapshotPath returns the .duckdb file backing one snapshot.
func (r *Resolver) SnapshotPath(snapshotID string) (string, error) {
	if err := ValidateSegment("snapshot_id", snapshotID); err != nil {
		return "", err
	}
	return filepath.Join(r.SnapshotsDir(), snapshotID+".duckdb"), nil
}

// CatalogPath returns the project's link catalog file:
// <project_dir>/_catalog.duckdb, the single persistent session the
// share/link engine attaches shared-bucket table files into and
// projects as views.
func (r *Resolver) CatalogPath(projectID string) (string, error) {
	dir, err := r.ProjectDir(projectID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "_catalog.duckdb"), nil
}

// DataRoot returns the resolver's root directory, for callers that
// need to MkdirAll it at startup.
func (r *Resolver) DataRoot() string {
	return r.dataRoot
}
