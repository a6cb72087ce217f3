// Package snapshot implements the storage core's snapshot engine
//: hierarchical retention/trigger config resolution,
// manual and automatic snapshot capture, restore, and retention GC.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/engine"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/metrics"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/tablelock"
	"github.com/keboola/storage-core/pkg/types"
)

// SystemDefaults are the system-scope values the resolution chain falls
// back to when no project/bucket/table override exists.
var SystemDefaults = types.SnapshotConfig{
	Scope:                types.ScopeSystem,
	Enabled:              boolPtr(true),
	RetentionManualDays:  intPtr(90),
	RetentionAutoDays:    intPtr(7),
	TriggerDropTable:     boolPtr(true),
	TriggerDropColumn:    boolPtr(true),
	TriggerTruncateTable: boolPtr(false),
	TriggerDeleteAllRows: boolPtr(false),
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// Effective is the fully-resolved snapshot config for one (project,
// bucket, table), plus an inheritance map recording which scope
// contributed each field.
type Effective struct {
	Enabled              bool
	RetentionManualDays  int
	RetentionAutoDays    int
	TriggerDropTable     bool
	TriggerDropColumn    bool
	TriggerTruncateTable bool
	TriggerDeleteAllRows bool

	// Inheritance maps field name to the scope that supplied its value.
	Inheritance map[string]types.ConfigScope
}

// Engine resolves config and performs snapshot capture, restore and GC.
type Engine struct {
	store    metadata.Store
	paths    *pathresolver.Resolver
	locks    *tablelock.Manager
}

// New returns a snapshot Engine.
func New(store metadata.Store, paths *pathresolver.Resolver, locks *tablelock.Manager) *Engine {
	return &Engine{store: store, paths: paths, locks: locks}
}

// scopeKey returns the store's scope_key for one ConfigScope level of a
// (project, bucket, table) triple.
func scopeKey(scope types.ConfigScope, projectID, bucket, table string) string {
	switch scope {
	case types.ScopeTable:
		return projectID + "/" + bucket + "/" + table
	case types.ScopeBucket:
		return projectID + "/" + bucket
	case types.ScopeProject:
		return projectID
	default:
		return ""
	}
}

// Resolve walks types.ScopeChain from most to least specific, merging
// each field independently the first time a scope sets it, and falls
// through to SystemDefaults for anything left unset.
func (e *Engine) Resolve(projectID, bucket, table string) (Effective, error) {
	eff := Effective{Inheritance: make(map[string]types.ConfigScope, 7)}

	assign := func(scope types.ConfigScope, c *types.SnapshotConfig) {
		if c == nil {
			return
		}
		if c.Enabled != nil {
			if _, ok := eff.Inheritance["enabled"]; !ok {
				eff.Enabled = *c.Enabled
				eff.Inheritance["enabled"] = scope
			}
		}
		if c.RetentionManualDays != nil {
			if _, ok := eff.Inheritance["retention_manual_days"]; !ok {
				eff.RetentionManualDays = *c.RetentionManualDays
				eff.Inheritance["retention_manual_days"] = scope
			}
		}
		if c.RetentionAutoDays != nil {
			if _, ok := eff.Inheritance["retention_auto_days"]; !ok {
				eff.RetentionAutoDays = *c.RetentionAutoDays
				eff.Inheritance["retention_auto_days"] = scope
			}
		}
		if c.TriggerDropTable != nil {
			if _, ok := eff.Inheritance["trigger_drop_table"]; !ok {
				eff.TriggerDropTable = *c.TriggerDropTable
				eff.Inheritance["trigger_drop_table"] = scope
			}
		}
		if c.TriggerDropColumn != nil {
			if _, ok := eff.Inheritance["trigger_drop_column"]; !ok {
				eff.TriggerDropColumn = *c.TriggerDropColumn
				eff.Inheritance["trigger_drop_column"] = scope
			}
		}
		if c.TriggerTruncateTable != nil {
			if _, ok := eff.Inheritance["trigger_truncate_table"]; !ok {
				eff.TriggerTruncateTable = *c.TriggerTruncateTable
				eff.Inheritance["trigger_truncate_table"] = scope
			}
		}
		if c.TriggerDeleteAllRows != nil {
			if _, ok := eff.Inheritance["trigger_delete_all_rows"]; !ok {
				eff.TriggerDeleteAllRows = *c.TriggerDeleteAllRows
				eff.Inheritance["trigger_delete_all_rows"] = scope
			}
		}
	}

	for _, scope := range types.ScopeChain {
		key := scopeKey(scope, projectID, bucket, table)
		c, err := e.store.GetSnapshotConfig(scope, key)
		if err != nil && apierr.KindOf(err) != apierr.KindNotFound {
			return Effective{}, err
		}
		assign(scope, c)
	}
	assign(types.ScopeSystem, &SystemDefaults)

	return eff, nil
}

// Manual captures a manual snapshot of (projectID, branchID, bucket,
// table) under the table's lock.
func (e *Engine) Manual(ctx context.Context, projectID, branchID, bucket, table, description string, lockTimeout time.Duration) (*types.Snapshot, error) {
	eff, err := e.Resolve(projectID, bucket, table)
	if err != nil {
		return nil, err
	}
	return e.capture(ctx, projectID, branchID, bucket, table, types.SnapshotManual, description, eff.RetentionManualDays, lockTimeout)
}

// Auto captures an automatic pre-destructive-operation snapshot, iff
// enabled at the effective scope and the trigger for this operation is
// on. Returns (nil, nil) when skipped — not an error.
func (e *Engine) Auto(ctx context.Context, projectID, branchID, bucket, table string, snapType types.SnapshotType, lockTimeout time.Duration) (*types.Snapshot, error) {
	eff, err := e.Resolve(projectID, bucket, table)
	if err != nil {
		return nil, err
	}
	if !eff.Enabled {
		return nil, nil
	}
	triggered := false
	description := ""
	switch snapType {
	case types.SnapshotAutoPreDrop:
		triggered = eff.TriggerDropTable
		description = "Auto-backup before DROP TABLE"
	case types.SnapshotAutoPreDropColumn:
		triggered = eff.TriggerDropColumn
		description = "Auto-backup before DROP COLUMN"
	case types.SnapshotAutoPreTruncate:
		triggered = eff.TriggerTruncateTable
		description = "Auto-backup before TRUNCATE TABLE"
	case types.SnapshotAutoPreDeleteAll:
		triggered = eff.TriggerDeleteAllRows
		description = "Auto-backup before deleting all rows"
	default:
		return nil, apierr.Validation("unknown automatic snapshot type %q", snapType)
	}
	if !triggered {
		return nil, nil
	}
	return e.capture(ctx, projectID, branchID, bucket, table, snapType, description, eff.RetentionAutoDays, lockTimeout)
}

func (e *Engine) capture(ctx context.Context, projectID, branchID, bucket, table string, snapType types.SnapshotType, description string, retentionDays int, lockTimeout time.Duration) (*types.Snapshot, error) {
	srcPath, err := e.paths.TablePath(projectID, branchID, bucket, table)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(srcPath); err != nil {
		return nil, apierr.NotFound("table %s/%s has no file to snapshot", bucket, table)
	}

	handle, err := e.locks.Acquire(ctx, tablelock.Key{ProjectID: projectID, BranchID: branchID, Bucket: bucket, Table: table}, lockTimeout)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	rowCount, err := countRows(srcPath)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dstPath, err := e.paths.SnapshotPath(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return nil, apierr.Internal(err, "create snapshots directory")
	}
	if err := copyFile(srcPath, dstPath); err != nil {
		return nil, err
	}

	now := time.Now()
	snap := &types.Snapshot{
		ID:                id,
		ProjectID:         projectID,
		BranchID:          branchID,
		Bucket:            bucket,
		Table:             table,
		SnapshotType:      snapType,
		CreatedAt:         now,
		ExpiresAt:         now.Add(time.Duration(retentionDays) * 24 * time.Hour),
		RowCountAtCapture: rowCount,
		Description:       description,
		FilePath:          dstPath,
	}
	if err := e.store.CreateSnapshot(snap); err != nil {
		os.Remove(dstPath)
		return nil, err
	}

	metrics.SnapshotsTotal.WithLabelValues(string(snapType)).Inc()
	log.WithComponent("snapshot").Info().
		Str("snapshot_id", id).Str("project_id", projectID).Str("bucket", bucket).Str("table", table).
		Str("type", string(snapType)).Msg("snapshot captured")

	return snap, nil
}

// RestoreResult is what Restore reports back to the caller.
type RestoreResult struct {
	RowCount   int64
	RestoredTo string
}

// Restore copies a snapshot file back onto a live table.
// An empty targetTable restores in place over the original (bucket,
// table); a non-empty one writes to a new table in the same bucket
// without touching the original.
func (e *Engine) Restore(ctx context.Context, snapshotID, targetTable string, lockTimeout time.Duration) (*RestoreResult, error) {
	snap, err := e.store.GetSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}

	destTable := snap.Table
	if targetTable != "" {
		destTable = targetTable
	}

	destPath, err := e.paths.TablePath(snap.ProjectID, snap.BranchID, snap.Bucket, destTable)
	if err != nil {
		return nil, err
	}

	handle, err := e.locks.Acquire(ctx, tablelock.Key{ProjectID: snap.ProjectID, BranchID: snap.BranchID, Bucket: snap.Bucket, Table: destTable}, lockTimeout)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, apierr.Internal(err, "create destination directory")
	}
	if err := copyFile(snap.FilePath, destPath); err != nil {
		return nil, err
	}

	rowCount, err := countRows(destPath)
	if err != nil {
		return nil, err
	}

	log.WithComponent("snapshot").Info().
		Str("snapshot_id", snapshotID).Str("restored_to", destTable).Msg("snapshot restored")

	return &RestoreResult{RowCount: rowCount, RestoredTo: destTable}, nil
}

// CleanupExpired runs retention GC: deletes metadata rows whose
// expires_at has passed and removes their backing files.
func (e *Engine) CleanupExpired(now time.Time) (int, error) {
	expired, err := e.store.CleanupExpiredSnapshots(now)
	if err != nil {
		return 0, err
	}
	for _, snap := range expired {
		if err := os.Remove(snap.FilePath); err != nil && !os.IsNotExist(err) {
			log.WithComponent("snapshot").Warn().Err(err).Str("snapshot_id", snap.ID).Msg("failed to remove expired snapshot file")
		}
	}
	metrics.SnapshotsExpiredTotal.Add(float64(len(expired)))
	if len(expired) > 0 {
		log.WithComponent("snapshot").Info().Int("count", len(expired)).Msg("retention GC removed expired snapshots")
	}
	return len(expired), nil
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apierr.Internal(err, "open snapshot source")
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return apierr.Internal(err, "open snapshot destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apierr.Internal(err, "copy snapshot file")
	}
	return out.Sync()
}

// countRows opens its own short-lived read-only connection to path
// purely to populate row_count_at_capture / the restore result's row
// count, rather than borrowing whatever engine handle the caller has
// open on the live table.
func countRows(path string) (int64, error) {
	eng, err := engine.OpenReadOnly(path)
	if err != nil {
		return 0, err
	}
	defer eng.Close()

	info, err := eng.GetTableInfo(context.Background())
	if err != nil {
		return 0, err
	}
	return info.RowCount, nil
}
