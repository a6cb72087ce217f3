// Package branch implements the storage core's branch / copy-on-write
// engine: ensuring a table is copied into a dev branch on
// first write, branch read/write dispatch, pull, branch deletion, and
// branch stats.
package branch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/metrics"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/tablelock"
)

// Engine owns the copy-on-write and branch-lifecycle operations.
type Engine struct {
	store metadata.Store
	paths *pathresolver.Resolver
	locks *tablelock.Manager
}

// New returns a branch Engine.
func New(store metadata.Store, paths *pathresolver.Resolver, locks *tablelock.Manager) *Engine {
	return &Engine{store: store, paths: paths, locks: locks}
}

// EnsureTableInBranch copies a table into a dev branch on first write.
// Returns cowPerformed=true the first time it copies the file, false
// on every later call for the same (branch, bucket, table).
func (e *Engine) EnsureTableInBranch(ctx context.Context, projectID, branchID, bucket, table string, lockTimeout time.Duration) (cowPerformed bool, err error) {
	mainPath, err := e.paths.MainTablePath(projectID, bucket, table)
	if err != nil {
		return false, err
	}
	if _, statErr := os.Stat(mainPath); statErr != nil {
		return false, apierr.NotFound("table %s/%s not found under main", bucket, table)
	}

	handle, err := e.locks.Acquire(ctx, tablelock.Key{ProjectID: projectID, BranchID: branchID, Bucket: bucket, Table: table}, lockTimeout)
	if err != nil {
		return false, err
	}
	defer handle.Release()

	inBranch, err := e.store.IsTableInBranch(projectID, branchID, bucket, table)
	if err != nil {
		return false, err
	}
	if inBranch {
		return false, nil
	}

	branchPath, err := e.paths.TablePath(projectID, branchID, bucket, table)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(branchPath), 0o755); err != nil {
		return false, apierr.Internal(err, "create branch bucket directory")
	}
	if err := copyFile(mainPath, branchPath); err != nil {
		return false, err
	}
	if err := e.store.MarkTableCopiedToBranch(projectID, branchID, bucket, table); err != nil {
		os.Remove(branchPath)
		return false, err
	}

	metrics.BranchCopiesTotal.Inc()
	log.WithComponent("branch").Info().
		Str("project_id", projectID).Str("branch_id", branchID).
		Str("bucket", bucket).Str("table", table).Msg("copy-on-write performed")

	return true, nil
}

// ResolveReadPath implements branch read semantics: the branch copy if
// present, else main. branchID=="" always means main regardless of
// what's recorded, since EnsureTableInBranch is never called for main.
func (e *Engine) ResolveReadPath(projectID, branchID, bucket, table string) (string, error) {
	if branchID == "" {
		return e.paths.MainTablePath(projectID, bucket, table)
	}
	inBranch, err := e.store.IsTableInBranch(projectID, branchID, bucket, table)
	if err != nil {
		return "", err
	}
	if inBranch {
		return e.paths.TablePath(projectID, branchID, bucket, table)
	}
	return e.paths.MainTablePath(projectID, bucket, table)
}

// ResolveWritePath implements branch write semantics: ensure the
// copy-on-write has happened, then return the branch's own path. For
// branchID=="" (writing to main) it's a pass-through with no lock or
// copy beyond what the caller's own table lock already covers.
func (e *Engine) ResolveWritePath(ctx context.Context, projectID, branchID, bucket, table string, lockTimeout time.Duration) (string, error) {
	if branchID == "" {
		return e.paths.MainTablePath(projectID, bucket, table)
	}
	if _, err := e.EnsureTableInBranch(ctx, projectID, branchID, bucket, table, lockTimeout); err != nil {
		return "", err
	}
	return e.paths.TablePath(projectID, branchID, bucket, table)
}

// PullResult reports what Pull did.
type PullResult struct {
	Reverted bool   // true if a branch copy was removed
	Message  string
}

// Pull discards a branch's local copy of a table, reverting it to
// inherit straight from its parent again until the next write.
func (e *Engine) Pull(ctx context.Context, projectID, branchID, bucket, table string, lockTimeout time.Duration) (*PullResult, error) {
	handle, err := e.locks.Acquire(ctx, tablelock.Key{ProjectID: projectID, BranchID: branchID, Bucket: bucket, Table: table}, lockTimeout)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	inBranch, err := e.store.IsTableInBranch(projectID, branchID, bucket, table)
	if err != nil {
		return nil, err
	}
	if !inBranch {
		return &PullResult{Reverted: false, Message: "already reading from main"}, nil
	}

	branchPath, err := e.paths.TablePath(projectID, branchID, bucket, table)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(branchPath); err != nil && !os.IsNotExist(err) {
		return nil, apierr.Internal(err, "remove branch table file")
	}
	if err := e.store.UnmarkTableCopiedFromBranch(projectID, branchID, bucket, table); err != nil {
		return nil, err
	}

	log.WithComponent("branch").Info().
		Str("project_id", projectID).Str("branch_id", branchID).
		Str("bucket", bucket).Str("table", table).Msg("pulled branch copy, reverted to main")

	return &PullResult{Reverted: true, Message: "branch now reads from main"}, nil
}

// Delete removes the entire branch directory and all its per-bucket
// subdirectories. Tolerant of the
// directory not existing.
func (e *Engine) Delete(projectID, branchID string) error {
	dir, err := e.paths.BranchDir(projectID, branchID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return apierr.Internal(err, "remove branch directory")
	}
	if err := e.store.DeleteBranch(projectID, branchID); err != nil {
		return err
	}
	log.WithComponent("branch").Info().Str("project_id", projectID).Str("branch_id", branchID).Msg("branch deleted")
	return nil
}

// Stats is what branch stats report.
type Stats struct {
	FileCount int
	TotalSize int64
}

// Stats scans the branch directory for file count and total size.
func (e *Engine) Stats(projectID, branchID string) (*Stats, error) {
	dir, err := e.paths.BranchDir(projectID, branchID)
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info != nil && !info.IsDir() {
			stats.FileCount++
			stats.TotalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Internal(err, "scan branch directory")
	}
	return stats, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apierr.Internal(err, "open source table file")
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return apierr.Internal(err, "open branch table file")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apierr.Internal(err, "copy table file into branch")
	}
	return out.Sync()
}
