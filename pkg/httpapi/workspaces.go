package httpapi

import (
	"net/http"
	"time"

	"github.com/keboola/storage-core/pkg/workspace"
)

type createWorkspaceRequest struct {
	BranchID       string `json:"branch_id"`
	Name           string `json:"name"`
	TTLSeconds     *int64 `json:"ttl_seconds"`
	SizeLimitBytes int64  `json:"size_limit_bytes"`
}

type createWorkspaceResponse struct {
	Workspace interface{} `json:"workspace"`
	Username  string      `json:"username"`
	Password  string      `json:"password"`
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	params := workspace.CreateParams{
		ProjectID: pid, BranchID: req.BranchID, Name: req.Name, SizeLimitBytes: req.SizeLimitBytes,
	}
	if req.TTLSeconds != nil {
		ttl := time.Duration(*req.TTLSeconds) * time.Second
		params.TTL = &ttl
	}
	result, err := s.deps.Workspaces.Create(params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createWorkspaceResponse{
		Workspace: result.Workspace, Username: result.Username, Password: result.Password,
	})
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.deps.Store.ListWorkspaces(r.PathValue("pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workspaces)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.deps.Workspaces.Get(r.PathValue("wid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Workspaces.Delete(r.PathValue("wid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearWorkspace(w http.ResponseWriter, r *http.Request) {
	ignoreErrors := r.URL.Query().Get("ignore_errors") == "true"
	err := s.deps.Workspaces.Clear(r.Context(), r.PathValue("wid"), workspace.ClearOptions{IgnoreErrors: ignoreErrors})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDropObject(w http.ResponseWriter, r *http.Request) {
	ignoreIfNotExists := r.URL.Query().Get("ignore_if_not_exists") == "true"
	err := s.deps.Workspaces.DropObject(r.Context(), r.PathValue("wid"), r.PathValue("object"), ignoreIfNotExists)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetCredentials(w http.ResponseWriter, r *http.Request) {
	password, err := s.deps.Workspaces.ResetCredentials(r.PathValue("wid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"password": password})
}

type loadTablesRequest struct {
	Tables []workspace.LoadTableSpec `json:"tables"`
}

func (s *Server) handleLoadTables(w http.ResponseWriter, r *http.Request) {
	var req loadTablesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.Workspaces.LoadTables(r.Context(), r.PathValue("wid"), req.Tables)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
