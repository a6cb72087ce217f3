// Package share implements the storage core's share / link engine
//: recording cross-project bucket shares, attaching a
// shared bucket's table files read-only into the target project's
// link catalog as views, and unlinking.
package share

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/engine"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/types"
)

// Engine owns bucket share records and the target-side link catalog.
type Engine struct {
	store metadata.Store
	paths *pathresolver.Resolver
}

// New returns a share/link Engine.
func New(store metadata.Store, paths *pathresolver.Resolver) *Engine {
	return &Engine{store: store, paths: paths}
}

// ShareRoleName returns the synthetic role name share()
// returns: share_<source_pid>_<bucket>.
func ShareRoleName(sourceProjectID, sourceBucket string) string {
	return fmt.Sprintf("share_%s_%s", sourceProjectID, sourceBucket)
}

// Share records that sourceProjectID has exposed sourceBucket to
// targetProjectID. No filesystem change.
func (e *Engine) Share(sourceProjectID, sourceBucket, targetProjectID string) (string, error) {
	share := &types.BucketShare{
		SourceProjectID: sourceProjectID,
		SourceBucket:    sourceBucket,
		TargetProjectID: targetProjectID,
		ShareType:       types.ShareTypeReadOnly,
		CreatedAt:       time.Now(),
	}
	if err := e.store.CreateBucketShare(share); err != nil {
		return "", err
	}
	return ShareRoleName(sourceProjectID, sourceBucket), nil
}

// Unshare removes a previously-recorded bucket share.
func (e *Engine) Unshare(sourceProjectID, sourceBucket, targetProjectID string) error {
	return e.store.DeleteBucketShare(sourceProjectID, sourceBucket, targetProjectID)
}

// aliasPrefix is the common prefix of every per-table ATTACH alias a
// link produces, used as the link row's AttachedDBAlias bookkeeping
// value: link_<source_pid>_<bucket>.
func aliasPrefix(sourceProjectID, sourceBucket string) string {
	return fmt.Sprintf("link_%s_%s", sourceProjectID, sourceBucket)
}

// aliasName is the per-table ATTACH alias used inside the target's
// link catalog: link_<source_pid>_<bucket>_<table>.
func aliasName(sourceProjectID, sourceBucket, table string) string {
	return aliasPrefix(sourceProjectID, sourceBucket) + "_" + table
}

// LinkResult is what Link returns to the caller.
type LinkResult struct {
	Views []string
}

// Link grants a project read access to another project's bucket. It verifies the source bucket
// exists, that the target bucket isn't already present or linked, then
// attaches every table file in the source bucket read-only into the
// target project's link catalog and creates one view per table in the
// target bucket schema.
func (e *Engine) Link(ctx context.Context, targetProjectID, targetBucket, sourceProjectID, sourceBucket string) (*LinkResult, error) {
	if _, err := e.store.GetBucketLink(targetProjectID, targetBucket); err == nil {
		return nil, apierr.Conflict("bucket %q is already linked in project %q", targetBucket, targetProjectID)
	} else if apierr.KindOf(err) != apierr.KindNotFound {
		return nil, err
	}
	if _, err := e.store.GetBucket(targetProjectID, targetBucket); err == nil {
		return nil, apierr.Conflict("bucket %q already exists in project %q", targetBucket, targetProjectID)
	} else if apierr.KindOf(err) != apierr.KindNotFound {
		return nil, err
	}

	sourceBucketDir, err := e.paths.BucketDir(sourceProjectID, "", sourceBucket)
	if err != nil {
		return nil, err
	}
	tableFiles, err := listTableFiles(sourceBucketDir)
	if err != nil {
		return nil, err
	}
	if len(tableFiles) == 0 {
		return nil, apierr.NotFound("source bucket %q has no tables to link", sourceBucket)
	}

	catalogPath, err := e.paths.CatalogPath(targetProjectID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(catalogPath), 0o755); err != nil {
		return nil, apierr.Internal(err, "create target project directory")
	}

	eng, err := engine.Open(catalogPath)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	schemaIdent := targetBucket
	if _, err := eng.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaIdent)); err != nil {
		return nil, apierr.EngineError(err, "create schema for linked bucket %s", targetBucket)
	}

	var views []string
	for _, table := range tableFiles {
		alias := aliasName(sourceProjectID, sourceBucket, table)
		path := filepath.Join(sourceBucketDir, table+".duckdb")
		if err := eng.Attach(ctx, path, alias); err != nil {
			return nil, err
		}
		viewName := schemaIdent + "." + table
		// Every attached table file holds exactly one table, always
		// named "data" (pkg/engine's mainTable convention); the logical
		// table name only exists as the file's basename.
		stmt := fmt.Sprintf("CREATE VIEW %q.%q AS SELECT * FROM %q.data", schemaIdent, table, alias)
		if _, err := eng.Exec(ctx, stmt); err != nil {
			return nil, apierr.EngineError(err, "create view for linked table %s", table)
		}
		views = append(views, viewName)
	}

	link := &types.BucketLink{
		TargetProjectID: targetProjectID,
		TargetBucket:    targetBucket,
		SourceProjectID: sourceProjectID,
		SourceBucket:    sourceBucket,
		AttachedDBAlias: aliasPrefix(sourceProjectID, sourceBucket),
		Views:           views,
		CreatedAt:       time.Now(),
	}
	if err := e.store.CreateBucketLink(link); err != nil {
		return nil, err
	}

	log.WithComponent("share").Info().
		Str("target_project_id", targetProjectID).Str("target_bucket", targetBucket).
		Str("source_project_id", sourceProjectID).Str("source_bucket", sourceBucket).
		Int("view_count", len(views)).Msg("bucket linked")

	return &LinkResult{Views: views}, nil
}

// Unlink reverses Link: drops the views, drops the
// schema, detaches every per-table alias, and removes the link row.
// Each step is tolerant of partial failure — logged, not fatal.
func (e *Engine) Unlink(ctx context.Context, targetProjectID, targetBucket string) error {
	link, err := e.store.GetBucketLink(targetProjectID, targetBucket)
	if err != nil {
		return err
	}

	catalogPath, err := e.paths.CatalogPath(targetProjectID)
	if err != nil {
		return err
	}

	logger := log.WithComponent("share")
	if eng, openErr := engine.Open(catalogPath); openErr == nil {
		defer eng.Close()

		for _, view := range link.Views {
			parts := strings.SplitN(view, ".", 2)
			if len(parts) != 2 {
				continue
			}
			stmt := fmt.Sprintf("DROP VIEW IF EXISTS %q.%q", parts[0], parts[1])
			if _, execErr := eng.Exec(ctx, stmt); execErr != nil {
				logger.Warn().Err(execErr).Str("view", view).Msg("failed to drop view during unlink")
			}
		}

		if _, execErr := eng.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %q CASCADE", targetBucket)); execErr != nil {
			logger.Warn().Err(execErr).Str("bucket", targetBucket).Msg("failed to drop schema during unlink")
		}

		for _, view := range link.Views {
			parts := strings.SplitN(view, ".", 2)
			if len(parts) != 2 {
				continue
			}
			alias := aliasName(link.SourceProjectID, link.SourceBucket, parts[1])
			if detachErr := eng.Detach(ctx, alias); detachErr != nil {
				logger.Warn().Err(detachErr).Str("alias", alias).Msg("failed to detach alias during unlink")
			}
		}
	} else {
		logger.Warn().Err(openErr).Str("catalog", catalogPath).Msg("failed to open link catalog during unlink")
	}

	if err := e.store.DeleteBucketLink(targetProjectID, targetBucket); err != nil {
		return err
	}

	logger.Info().Str("target_project_id", targetProjectID).Str("target_bucket", targetBucket).Msg("bucket unlinked")
	return nil
}

// listTableFiles returns the table names (without .duckdb) present in
// a bucket directory.
func listTableFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.NotFound("source bucket directory does not exist")
		}
		return nil, apierr.Internal(err, "read source bucket directory")
	}
	var tables []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".duckdb") {
			tables = append(tables, strings.TrimSuffix(entry.Name(), ".duckdb"))
		}
	}
	return tables, nil
}
