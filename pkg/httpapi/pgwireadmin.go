package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/auth"
	"github.com/keboola/storage-core/pkg/types"
)

// These endpoints are operator/administrative tooling around the
// PG-wire session table; the wire listener itself talks to
// pkg/metadata directly rather than looping back through HTTP.

type pgwireAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handlePGWireAuth(w http.ResponseWriter, r *http.Request) {
	var req pgwireAuthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cred, err := s.deps.Store.GetWorkspaceCredentialByUsername(req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	if !auth.VerifyWorkspacePassword(cred.PasswordHash, req.Password) {
		writeError(w, apierr.Auth("password authentication failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workspace_id": cred.WorkspaceID})
}

func (s *Server) handleListPGWireSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.ListPGWireSessions(r.URL.Query().Get("workspace_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type patchPGWireSessionRequest struct {
	Status types.PGWireSessionStatus `json:"status"`
}

func (s *Server) handlePatchPGWireSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Store.GetPGWireSession(r.PathValue("sessid"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req patchPGWireSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess.Status = req.Status
	sess.LastActivityAt = time.Now()
	if err := s.deps.Store.UpdatePGWireSession(sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeletePGWireSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeletePGWireSession(r.PathValue("sessid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanupPGWireSessions(w http.ResponseWriter, r *http.Request) {
	thresholdSeconds := 30 * 60
	if v := r.URL.Query().Get("idle_threshold_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			thresholdSeconds = n
		}
	}
	cleaned, err := s.deps.Store.CleanupIdleSessions(time.Duration(thresholdSeconds) * time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleaned_up": len(cleaned)})
}
