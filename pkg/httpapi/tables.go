package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/engine"
	"github.com/keboola/storage-core/pkg/tablelock"
	"github.com/keboola/storage-core/pkg/types"
)

func ensureParentDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.Internal(err, "create bucket directory")
	}
	return nil
}

// normalizeBranchID maps the literal "main" path segment onto the
// empty branch id every other package already treats as main.
func normalizeBranchID(bid string) string {
	if bid == "main" {
		return ""
	}
	return bid
}

// withBranchTable resolves (pid, bid, bucket, table) to its branch
// write path — running the copy-on-write in pkg/branch first when bid
// names a dev branch — then opens that file under its table lock and
// runs fn, releasing the lock and closing the engine afterward
// regardless of outcome.
func (s *Server) withBranchTable(r *http.Request, pid, bid, bucket, table string, fn func(*engine.Engine) error) error {
	branchID := normalizeBranchID(bid)
	path, err := s.deps.Branches.ResolveWritePath(r.Context(), pid, branchID, bucket, table, s.deps.LockTimeout)
	if err != nil {
		return err
	}
	handle, err := s.deps.Locks.Acquire(r.Context(), tablelock.Key{ProjectID: pid, BranchID: branchID, Bucket: bucket, Table: table}, s.deps.LockTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	eng, err := engine.Open(path)
	if err != nil {
		return err
	}
	defer eng.Close()

	return fn(eng)
}

// withReadOnlyBranchTable resolves (pid, bid, bucket, table) to its
// branch read path — the branch's own copy if one was ever made,
// falling back to main otherwise — and opens it read-only.
func (s *Server) withReadOnlyBranchTable(pid, bid, bucket, table string, fn func(*engine.Engine) error) error {
	path, err := s.deps.Branches.ResolveReadPath(pid, normalizeBranchID(bid), bucket, table)
	if err != nil {
		return err
	}
	eng, err := engine.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(eng)
}

// autoSnapshot ensures the branch copy-on-write has happened (so the
// snapshot source exists at the branch's own path) and then triggers a
// pre-destructive snapshot of the given type, which pkg/snapshot.Auto
// no-ops when the resolved config doesn't enable it.
func (s *Server) autoSnapshot(r *http.Request, pid, bid, bucket, table string, snapType types.SnapshotType) error {
	branchID := normalizeBranchID(bid)
	if _, err := s.deps.Branches.ResolveWritePath(r.Context(), pid, branchID, bucket, table, s.deps.LockTimeout); err != nil {
		return err
	}
	_, err := s.deps.Snapshots.Auto(r.Context(), pid, branchID, bucket, table, snapType, s.deps.LockTimeout)
	return err
}

type createTableRequest struct {
	Columns    []types.Column `json:"columns"`
	PrimaryKey []string       `json:"primary_key"`
}

func toEngineColumns(cols []types.Column) []engine.Column {
	out := make([]engine.Column, len(cols))
	for i, c := range cols {
		ec := engine.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
		if c.Default != nil {
			ec.HasDefault = true
			ec.Default = *c.Default
		}
		out[i] = ec
	}
	return out
}

// handleCreateTable creates a brand-new table. Unlike every other
// table write, there is no main-branch file to copy-on-write from, so
// a table created directly under a dev branch is marked copied into
// that branch immediately: every later read/write must resolve to
// this branch file instead of falling through to a main file that was
// never created.
func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket")
	branchID := normalizeBranchID(bid)
	table := r.URL.Query().Get("name")
	if table == "" {
		writeError(w, apierr.Validation("table name query parameter is required"))
		return
	}
	var req createTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	path, err := s.deps.Paths.TablePath(pid, branchID, bucket, table)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := ensureParentDir(path); err != nil {
		writeError(w, err)
		return
	}

	handle, err := s.deps.Locks.Acquire(r.Context(), tablelock.Key{ProjectID: pid, BranchID: branchID, Bucket: bucket, Table: table}, s.deps.LockTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	err = func() error {
		defer handle.Release()
		eng, err := engine.Open(path)
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.CreateTable(r.Context(), toEngineColumns(req.Columns), req.PrimaryKey)
	}()
	if err != nil {
		writeError(w, err)
		return
	}

	if branchID != "" {
		if err := s.deps.Store.MarkTableCopiedToBranch(pid, branchID, bucket, table); err != nil {
			writeError(w, err)
			return
		}
	}

	rec := &types.Table{
		ProjectID: pid, BucketName: bucket, TableName: table,
		Columns: req.Columns, PrimaryKey: req.PrimaryKey,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if branchID == "" {
		if err := s.deps.Store.CreateTable(rec); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.deps.Store.ListTables(r.PathValue("pid"), r.PathValue("bucket"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Store.GetTable(r.PathValue("pid"), r.PathValue("bucket"), r.PathValue("table"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")

	err := s.autoSnapshot(r, pid, bid, bucket, table, types.SnapshotAutoPreDrop)
	if err != nil && apierr.KindOf(err) != apierr.KindNotFound {
		writeError(w, err)
		return
	}

	err = s.withBranchTable(r, pid, bid, bucket, table, func(eng *engine.Engine) error {
		return eng.DropTable(r.Context())
	})
	if err != nil && apierr.KindOf(err) != apierr.KindNotFound {
		writeError(w, err)
		return
	}

	branchID := normalizeBranchID(bid)
	path, pathErr := s.deps.Paths.TablePath(pid, branchID, bucket, table)
	if pathErr == nil {
		_ = os.Remove(path)
	}
	if branchID == "" {
		if err := s.deps.Store.DeleteTable(pid, bucket, table); err != nil && apierr.KindOf(err) != apierr.KindNotFound {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreviewTable(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var rows []map[string]interface{}
	err := s.withReadOnlyBranchTable(r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table"), func(eng *engine.Engine) error {
		var err error
		rows, err = eng.Preview(r.Context(), limit)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	var info *engine.TableInfo
	err := s.withReadOnlyBranchTable(r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table"), func(eng *engine.Engine) error {
		var err error
		info, err = eng.GetTableInfo(r.Context())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info.Columns)
}

func (s *Server) handleAddColumn(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")
	var col types.Column
	if err := decodeJSON(r, &col); err != nil {
		writeError(w, err)
		return
	}
	ec := toEngineColumns([]types.Column{col})[0]
	err := s.withBranchTable(r, pid, bid, bucket, table, func(eng *engine.Engine) error {
		return eng.AddColumn(r.Context(), ec)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDropColumn(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")

	if err := s.autoSnapshot(r, pid, bid, bucket, table, types.SnapshotAutoPreDropColumn); err != nil {
		writeError(w, err)
		return
	}

	err := s.withBranchTable(r, pid, bid, bucket, table, func(eng *engine.Engine) error {
		return eng.DropColumn(r.Context(), r.PathValue("column"))
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type alterColumnRequest struct {
	NewName     string  `json:"new_name"`
	NewType     string  `json:"new_type"`
	NewNullable *bool   `json:"new_nullable"`
	NewDefault  *string `json:"new_default"`
}

func (s *Server) handleAlterColumn(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")
	var req alterColumnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts := engine.AlterColumnOptions{NewName: req.NewName, NewType: req.NewType, NewNullable: req.NewNullable}
	if req.NewDefault != nil {
		opts.HasDefault = true
		opts.NewDefault = *req.NewDefault
	}
	err := s.withBranchTable(r, pid, bid, bucket, table, func(eng *engine.Engine) error {
		return eng.AlterColumn(r.Context(), r.PathValue("column"), opts)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type primaryKeyRequest struct {
	Columns []string `json:"columns"`
}

func (s *Server) handleSetPrimaryKey(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")
	var req primaryKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.withBranchTable(r, pid, bid, bucket, table, func(eng *engine.Engine) error {
		return eng.AddPrimaryKey(r.Context(), req.Columns)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDropPrimaryKey(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")
	err := s.withBranchTable(r, pid, bid, bucket, table, func(eng *engine.Engine) error {
		return eng.DropPrimaryKey(r.Context())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteRows(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")
	where := r.URL.Query().Get("where")

	// An empty where clause reads as a literal TRUNCATE; a where
	// clause that merely evaluates to "every row" (1=1, TRUE) reads as
	// an explicit delete-all. Both are "delete all" for engine.DeleteRows,
	// but they map to the two distinct triggers pkg/snapshot resolves.
	if engine.IsDeleteAll(where) {
		snapType := types.SnapshotAutoPreDeleteAll
		if strings.TrimSpace(where) == "" {
			snapType = types.SnapshotAutoPreTruncate
		}
		if err := s.autoSnapshot(r, pid, bid, bucket, table, snapType); err != nil {
			writeError(w, err)
			return
		}
	}

	var deleted int64
	err := s.withBranchTable(r, pid, bid, bucket, table, func(eng *engine.Engine) error {
		var err error
		deleted, err = eng.DeleteRows(r.Context(), where)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted_rows": deleted})
}

type importRequest struct {
	Source      string              `json:"source"`
	Format      engine.ImportFormat `json:"format"`
	Delimiter   string              `json:"delimiter"`
	Enclosure   string              `json:"enclosure"`
	Escape      string              `json:"escape"`
	Incremental bool                `json:"incremental"`
	DedupMode   engine.DedupMode    `json:"dedup_mode"`
	PrimaryKey  []string            `json:"primary_key"`
}

func (s *Server) handleImportTable(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")
	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts := engine.ImportOptions{
		Delimiter: req.Delimiter, Enclosure: req.Enclosure, Escape: req.Escape,
		Incremental: req.Incremental, DedupMode: req.DedupMode, PrimaryKey: req.PrimaryKey,
	}
	var result *engine.ImportResult
	err := s.withBranchTable(r, pid, bid, bucket, table, func(eng *engine.Engine) error {
		var err error
		result, err = eng.ImportFromFile(r.Context(), req.Source, req.Format, opts)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type exportRequest struct {
	Destination string              `json:"destination"`
	Format      engine.ImportFormat `json:"format"`
	Columns     []string            `json:"columns"`
	Where       string              `json:"where"`
	Compression string              `json:"compression"`
}

func (s *Server) handleExportTable(w http.ResponseWriter, r *http.Request) {
	pid, bid, bucket, table := r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table")
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts := engine.ExportOptions{Columns: req.Columns, Where: req.Where, Compression: req.Compression}
	var result *engine.ExportResult
	err := s.withReadOnlyBranchTable(pid, bid, bucket, table, func(eng *engine.Engine) error {
		var err error
		result, err = eng.ExportToFile(r.Context(), req.Destination, req.Format, opts)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProfileTable(w http.ResponseWriter, r *http.Request) {
	var result *engine.ProfileResult
	err := s.withReadOnlyBranchTable(r.PathValue("pid"), r.PathValue("bid"), r.PathValue("bucket"), r.PathValue("table"), func(eng *engine.Engine) error {
		var err error
		result, err = eng.Profile(r.Context())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
