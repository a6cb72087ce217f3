package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/keboola/storage-core/pkg/types"
)

type createBranchRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	var req createBranchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b := &types.Branch{
		ID:          uuid.NewString()[:8],
		ProjectID:   pid,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now(),
	}
	if err := s.deps.Store.CreateBranch(b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.deps.Store.ListBranches(r.PathValue("pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Store.GetBranch(r.PathValue("pid"), r.PathValue("bid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Branches.Delete(r.PathValue("pid"), r.PathValue("bid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePullBranchTable(w http.ResponseWriter, r *http.Request) {
	pid, bid := r.PathValue("pid"), r.PathValue("bid")
	bucket, table := r.PathValue("bucket"), r.PathValue("table")
	result, err := s.deps.Branches.Pull(r.Context(), pid, bid, bucket, table, s.deps.LockTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
