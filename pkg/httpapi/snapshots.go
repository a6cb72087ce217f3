package httpapi

import (
	"net/http"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/types"
)

type createSnapshotRequest struct {
	BranchID    string `json:"branch_id"`
	Description string `json:"description"`
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	pid, bucket, table := r.PathValue("pid"), r.PathValue("bucket"), r.PathValue("table")
	var req createSnapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.deps.Snapshots.Manual(r.Context(), pid, req.BranchID, bucket, table, req.Description, s.deps.LockTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.deps.Store.ListSnapshots(r.PathValue("pid"), r.URL.Query().Get("bucket"), r.URL.Query().Get("table"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Store.GetSnapshot(r.PathValue("sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteSnapshot(r.PathValue("sid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type restoreSnapshotRequest struct {
	TargetTable string `json:"target_table"`
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	var req restoreSnapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.Snapshots.Restore(r.Context(), r.PathValue("sid"), req.TargetTable, s.deps.LockTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// scopeFromPath derives the (scope, scope_key) pair the hierarchical
// settings endpoints address, from whichever of {pid, bucket, table}
// the mounted route supplied.
func scopeFromPath(r *http.Request) (types.ConfigScope, string) {
	pid, bucket, table := r.PathValue("pid"), r.PathValue("bucket"), r.PathValue("table")
	switch {
	case table != "":
		return types.ScopeTable, pid + "/" + bucket + "/" + table
	case bucket != "":
		return types.ScopeBucket, pid + "/" + bucket
	default:
		return types.ScopeProject, pid
	}
}

type snapshotSettingsField struct {
	Value  interface{}       `json:"value"`
	Origin types.ConfigScope `json:"origin"`
}

type snapshotSettingsResponse struct {
	Enabled              snapshotSettingsField `json:"enabled"`
	RetentionManualDays  snapshotSettingsField `json:"retention_manual_days"`
	RetentionAutoDays    snapshotSettingsField `json:"retention_auto_days"`
	TriggerDropTable     snapshotSettingsField `json:"trigger_drop_table"`
	TriggerDropColumn    snapshotSettingsField `json:"trigger_drop_column"`
	TriggerTruncateTable snapshotSettingsField `json:"trigger_truncate_table"`
	TriggerDeleteAllRows snapshotSettingsField `json:"trigger_delete_all_rows"`
}

// handleGetSnapshotSettings returns the fully resolved config plus,
// per field, which scope in the chain actually supplied the value
//.
func (s *Server) handleGetSnapshotSettings(w http.ResponseWriter, r *http.Request) {
	pid, bucket, table := r.PathValue("pid"), r.PathValue("bucket"), r.PathValue("table")
	eff, err := s.deps.Snapshots.Resolve(pid, bucket, table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotSettingsResponse{
		Enabled:              snapshotSettingsField{eff.Enabled, eff.Inheritance["enabled"]},
		RetentionManualDays:  snapshotSettingsField{eff.RetentionManualDays, eff.Inheritance["retention_manual_days"]},
		RetentionAutoDays:    snapshotSettingsField{eff.RetentionAutoDays, eff.Inheritance["retention_auto_days"]},
		TriggerDropTable:     snapshotSettingsField{eff.TriggerDropTable, eff.Inheritance["trigger_drop_table"]},
		TriggerDropColumn:    snapshotSettingsField{eff.TriggerDropColumn, eff.Inheritance["trigger_drop_column"]},
		TriggerTruncateTable: snapshotSettingsField{eff.TriggerTruncateTable, eff.Inheritance["trigger_truncate_table"]},
		TriggerDeleteAllRows: snapshotSettingsField{eff.TriggerDeleteAllRows, eff.Inheritance["trigger_delete_all_rows"]},
	})
}

type putSnapshotSettingsRequest struct {
	Enabled              *bool `json:"enabled"`
	RetentionManualDays  *int  `json:"retention_manual_days"`
	RetentionAutoDays    *int  `json:"retention_auto_days"`
	TriggerDropTable     *bool `json:"trigger_drop_table"`
	TriggerDropColumn    *bool `json:"trigger_drop_column"`
	TriggerTruncateTable *bool `json:"trigger_truncate_table"`
	TriggerDeleteAllRows *bool `json:"trigger_delete_all_rows"`
}

// handlePutSnapshotSettings writes a partial override at whichever
// scope the route addresses; unset fields stay nil and keep falling
// through to the next scope down the chain.
func (s *Server) handlePutSnapshotSettings(w http.ResponseWriter, r *http.Request) {
	var req putSnapshotSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	scope, scopeKey := scopeFromPath(r)
	if scopeKey == "" {
		writeError(w, apierr.Validation("unable to resolve scope from request path"))
		return
	}
	cfg := &types.SnapshotConfig{
		Scope: scope, ScopeKey: scopeKey,
		Enabled: req.Enabled, RetentionManualDays: req.RetentionManualDays, RetentionAutoDays: req.RetentionAutoDays,
		TriggerDropTable: req.TriggerDropTable, TriggerDropColumn: req.TriggerDropColumn,
		TriggerTruncateTable: req.TriggerTruncateTable, TriggerDeleteAllRows: req.TriggerDeleteAllRows,
	}
	if err := s.deps.Store.PutSnapshotConfig(cfg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
