package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/types"
)

// handleBackendInit is a liveness/admin-key check: it does nothing
// beyond confirming the admin credential is valid, mirroring the
// teacher's /health endpoint's "200 means the process accepted the
// request" contract.
func (s *Server) handleBackendInit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createProjectRequest struct {
	DisplayName string `json:"display_name"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DisplayName == "" {
		writeError(w, apierr.Validation("display_name is required"))
		return
	}
	p := &types.Project{
		ID:          uuid.NewString(),
		DisplayName: req.DisplayName,
		Status:      types.ProjectActive,
		CreatedAt:   time.Now(),
	}
	if err := s.deps.Store.CreateProject(p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Store.ListProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetProject(r.PathValue("pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	p, err := s.deps.Store.GetProject(pid)
	if err != nil {
		writeError(w, err)
		return
	}
	p.Status = types.ProjectDeleted
	if err := s.deps.Store.UpdateProject(p); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createBucketRequest struct {
	Name string `json:"name"`
}

// normalizeBucketName applies the platform's bucket-name normalization:
// '.' and '-' become '_'.
func normalizeBucketName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '.' || r == '-' {
			out = append(out, '_')
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	var req createBucketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	name := normalizeBucketName(req.Name)
	b := &types.Bucket{ProjectID: pid, Name: name, CreatedAt: time.Now()}
	if err := s.deps.Store.CreateBucket(b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.deps.Store.ListBuckets(r.PathValue("pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Store.GetBucket(r.PathValue("pid"), r.PathValue("bucket"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteBucket(r.PathValue("pid"), r.PathValue("bucket")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
