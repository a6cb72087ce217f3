package httpapi

import (
	"net/http"
)

type shareRequest struct {
	TargetProjectID string `json:"target_project_id"`
}

func (s *Server) handleShareBucket(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	role, err := s.deps.Shares.Share(r.PathValue("pid"), r.PathValue("bucket"), req.TargetProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"role": role})
}

func (s *Server) handleUnshareBucket(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Shares.Unshare(r.PathValue("pid"), r.PathValue("bucket"), req.TargetProjectID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type linkRequest struct {
	SourceProjectID string `json:"source_project_id"`
	SourceBucket    string `json:"source_bucket"`
}

// handleLinkBucket doubles as the spec's "grant read-only" bucket
// operation: linking a shared bucket is always read-only, so there is no
// separate grant-readonly verb to dispatch to.
func (s *Server) handleLinkBucket(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.Shares.Link(r.Context(), r.PathValue("pid"), r.PathValue("bucket"), req.SourceProjectID, req.SourceBucket)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleUnlinkBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Shares.Unlink(r.Context(), r.PathValue("pid"), r.PathValue("bucket")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
