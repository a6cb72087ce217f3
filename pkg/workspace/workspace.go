// Package workspace implements the storage core's workspace engine
//: ephemeral per-project SQL sandboxes with their own
// DuckDB file, credentials, and table-loading from the project's
// buckets.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/auth"
	"github.com/keboola/storage-core/pkg/branch"
	"github.com/keboola/storage-core/pkg/engine"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/metrics"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/types"
)

// Engine owns workspace lifecycle, credentials, and table loading.
type Engine struct {
	store      metadata.Store
	paths      *pathresolver.Resolver
	branches   *branch.Engine
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// New returns a workspace Engine. defaultTTL is used when a caller
// doesn't specify one at create time; maxTTL caps whatever is
// requested. branches resolves load_tables sources through the same
// branch-then-main fallback every other reader in this module uses.
func New(store metadata.Store, paths *pathresolver.Resolver, branches *branch.Engine, defaultTTL, maxTTL time.Duration) *Engine {
	return &Engine{store: store, paths: paths, branches: branches, defaultTTL: defaultTTL, maxTTL: maxTTL}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	ProjectID      string
	BranchID       string
	Name           string
	TTL            *time.Duration
	SizeLimitBytes int64
}

// CreateResult is returned once, at creation time only — it's the only
// place the plaintext password appears.
type CreateResult struct {
	Workspace *types.Workspace
	Username  string
	Password  string
}

// Create provisions a new workspace. It mints an id, username and
// random password, creates an empty workspace file, and persists both
// the workspace row and its credential.
func (e *Engine) Create(params CreateParams) (*CreateResult, error) {
	ttl := e.defaultTTL
	if params.TTL != nil {
		ttl = *params.TTL
	}
	if ttl > e.maxTTL {
		ttl = e.maxTTL
	}

	id := "ws_" + uuid.NewString()[:8]
	username := fmt.Sprintf("ws_%s_%s", id, randSuffix())
	password, err := auth.GenerateWorkspacePassword()
	if err != nil {
		return nil, err
	}

	dbPath, err := e.paths.WorkspacePath(params.ProjectID, params.BranchID, id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, apierr.Internal(err, "create workspace directory")
	}
	eng, err := engine.Open(dbPath)
	if err != nil {
		return nil, err
	}
	eng.Close()

	now := time.Now()
	expiresAt := now.Add(ttl)
	ws := &types.Workspace{
		ID:             id,
		ProjectID:      params.ProjectID,
		BranchID:       params.BranchID,
		Name:           params.Name,
		DBPath:         dbPath,
		SizeLimitBytes: params.SizeLimitBytes,
		ExpiresAt:      &expiresAt,
		Status:         types.WorkspaceActive,
		CreatedAt:      now,
	}
	if err := e.store.CreateWorkspace(ws); err != nil {
		os.Remove(dbPath)
		return nil, err
	}

	cred := &types.WorkspaceCredential{
		WorkspaceID:  id,
		Username:     username,
		PasswordHash: auth.WorkspacePasswordHash(password),
		CreatedAt:    now,
	}
	if err := e.store.PutWorkspaceCredential(cred); err != nil {
		e.store.DeleteWorkspace(id)
		os.Remove(dbPath)
		return nil, err
	}

	metrics.ActiveWorkspacesByProject.WithLabelValues(params.ProjectID).Inc()
	log.WithWorkspace(id).Info().Str("project_id", params.ProjectID).Msg("workspace created")

	return &CreateResult{Workspace: ws, Username: username, Password: password}, nil
}

// Get returns workspace metadata (no password) with Status set to the
// derived effective status.
func (e *Engine) Get(id string) (*types.Workspace, error) {
	ws, err := e.store.GetWorkspace(id)
	if err != nil {
		return nil, err
	}
	ws.Status = ws.EffectiveStatus(time.Now())
	return ws, nil
}

// Delete removes the workspace file and cascades to its credential and
// any recorded PG-wire sessions.
func (e *Engine) Delete(id string) error {
	ws, err := e.store.GetWorkspace(id)
	if err != nil {
		return err
	}

	if err := os.Remove(ws.DBPath); err != nil && !os.IsNotExist(err) {
		return apierr.Internal(err, "remove workspace file")
	}
	if err := e.store.DeleteWorkspaceCredential(id); err != nil && apierr.KindOf(err) != apierr.KindNotFound {
		return err
	}

	sessions, err := e.store.ListPGWireSessions(id)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := e.store.DeletePGWireSession(s.SessionID); err != nil {
			log.WithWorkspace(id).Warn().Err(err).Str("session_id", s.SessionID).Msg("failed to delete session during workspace delete")
		}
	}

	if err := e.store.DeleteWorkspace(id); err != nil {
		return err
	}

	metrics.ActiveWorkspacesByProject.WithLabelValues(ws.ProjectID).Dec()
	log.WithWorkspace(id).Info().Msg("workspace deleted")
	return nil
}

// ClearOptions configures Clear.
type ClearOptions struct {
	IgnoreErrors bool
}

// Clear drops every user-created table/view in the workspace file.
func (e *Engine) Clear(ctx context.Context, id string, opts ClearOptions) error {
	ws, err := e.store.GetWorkspace(id)
	if err != nil {
		return err
	}
	eng, err := engine.Open(ws.DBPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	names, err := listObjects(ctx, eng)
	if err != nil {
		if opts.IgnoreErrors {
			return nil
		}
		return err
	}
	for _, name := range names {
		if _, err := eng.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", name)); err != nil {
			if !opts.IgnoreErrors {
				return apierr.EngineError(err, "drop object %s during clear", name)
			}
		}
	}
	return nil
}

// DropObject drops a single named table or view in the workspace file
//.
func (e *Engine) DropObject(ctx context.Context, id, objectName string, ignoreIfNotExists bool) error {
	ws, err := e.store.GetWorkspace(id)
	if err != nil {
		return err
	}
	eng, err := engine.Open(ws.DBPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	ifExists := ""
	if ignoreIfNotExists {
		ifExists = "IF EXISTS "
	}
	stmt := fmt.Sprintf("DROP TABLE %s%q", ifExists, objectName)
	if _, err := eng.Exec(ctx, stmt); err != nil {
		return apierr.EngineError(err, "drop object %s", objectName)
	}
	return nil
}

// ResetCredentials generates a new password, rehashes and persists it,
// and returns the new plaintext — the username is kept.
func (e *Engine) ResetCredentials(id string) (string, error) {
	cred, err := e.store.GetWorkspaceCredential(id)
	if err != nil {
		return "", err
	}
	password, err := auth.GenerateWorkspacePassword()
	if err != nil {
		return "", err
	}
	cred.PasswordHash = auth.WorkspacePasswordHash(password)
	cred.CreatedAt = time.Now()
	if err := e.store.PutWorkspaceCredential(cred); err != nil {
		return "", err
	}
	log.WithWorkspace(id).Info().Msg("workspace credentials reset")
	return password, nil
}

// LoadTableSpec is one entry in a load_tables() batch.
type LoadTableSpec struct {
	Source      string // "bucket.table"
	Destination string // defaults to the source table name
	Columns     []string
	Where       string
}

// LoadResult reports rows copied per destination table.
type LoadResult struct {
	RowsLoaded map[string]int64
}

// LoadTables copies rows from project tables into the workspace file
//. A missing source yields zero rows for
// that entry rather than failing the whole batch.
func (e *Engine) LoadTables(ctx context.Context, id string, specs []LoadTableSpec) (*LoadResult, error) {
	ws, err := e.store.GetWorkspace(id)
	if err != nil {
		return nil, err
	}
	wsEng, err := engine.Open(ws.DBPath)
	if err != nil {
		return nil, err
	}
	defer wsEng.Close()

	result := &LoadResult{RowsLoaded: make(map[string]int64, len(specs))}
	for _, spec := range specs {
		bucket, table, err := splitSource(spec.Source)
		if err != nil {
			return nil, err
		}
		dest := spec.Destination
		if dest == "" {
			dest = table
		}

		srcPath, err := e.branches.ResolveReadPath(ws.ProjectID, ws.BranchID, bucket, table)
		if err != nil {
			return nil, err
		}
		if _, statErr := os.Stat(srcPath); statErr != nil {
			result.RowsLoaded[dest] = 0
			continue
		}

		alias := "src_" + bucket + "_" + table
		if err := wsEng.Attach(ctx, srcPath, alias); err != nil {
			return nil, err
		}

		cols := "*"
		if len(spec.Columns) > 0 {
			quoted := make([]string, len(spec.Columns))
			for i, c := range spec.Columns {
				quoted[i] = fmt.Sprintf("%q", c)
			}
			cols = strings.Join(quoted, ", ")
		}
		where := ""
		if spec.Where != "" {
			where = " WHERE " + spec.Where
		}
		// The attached file holds exactly one table, always named
		// "data" (pkg/engine's mainTable convention); table is only the
		// logical name derived from the file's basename.
		stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %q AS SELECT %s FROM %q.data%s", dest, cols, alias, where)
		if _, err := wsEng.Exec(ctx, stmt); err != nil {
			wsEng.Detach(ctx, alias)
			return nil, apierr.EngineError(err, "load table %s into workspace", spec.Source)
		}
		if err := wsEng.Detach(ctx, alias); err != nil {
			return nil, err
		}

		row := wsEng.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %q", dest))
		var count int64
		if err := row.Scan(&count); err != nil {
			return nil, apierr.EngineError(err, "count loaded rows for %s", dest)
		}
		result.RowsLoaded[dest] = count
	}

	return result, nil
}

func splitSource(source string) (bucket, table string, err error) {
	parts := strings.SplitN(source, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apierr.Validation("invalid load_tables source %q, expected \"bucket.table\"", source)
	}
	return parts[0], parts[1], nil
}

func listObjects(ctx context.Context, eng *engine.Engine) ([]string, error) {
	rows, err := eng.Query(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = 'main'")
	if err != nil {
		return nil, apierr.EngineError(err, "list workspace objects")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apierr.EngineError(err, "scan workspace object name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func randSuffix() string {
	return uuid.NewString()[:8]
}
