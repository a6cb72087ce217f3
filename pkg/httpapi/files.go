package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/keboola/storage-core/pkg/apierr"
)

// fileStaging backs the 3-stage upload flow (prepare/upload/register)
// that feeds pkg/engine.ImportFromFile a source path. Staged files are
// plain disk files under <data_root>/_staged_files; the registry of
// which ids have been uploaded lives in memory only, acceptable for a
// process-local staging area that a restart is expected to clear.
type fileStaging struct {
	mu      sync.Mutex
	dir     string
	staged  map[string]bool
}

func newFileStaging(dataRoot string) *fileStaging {
	return &fileStaging{dir: filepath.Join(dataRoot, "_staged_files"), staged: make(map[string]bool)}
}

func (f *fileStaging) path(id string) string {
	return filepath.Join(f.dir, id)
}

func (f *fileStaging) prepare() (id, path string, err error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", "", apierr.Internal(err, "create staging directory")
	}
	id = "file_" + uuid.NewString()
	return id, f.path(id), nil
}

func (f *fileStaging) markUploaded(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged[id] = true
}

func (f *fileStaging) isUploaded(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staged[id]
}

type preparedFile struct {
	FileID     string `json:"file_id"`
	UploadPath string `json:"upload_path"`
}

func (s *Server) handleFilesPrepare(w http.ResponseWriter, r *http.Request) {
	id, path, err := s.files.prepare()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preparedFile{FileID: id, UploadPath: path})
}

func (s *Server) handleFilesUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("file_id")
	f, err := os.Create(s.files.path(id))
	if err != nil {
		writeError(w, apierr.Internal(err, "create staged file"))
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, r.Body); err != nil {
		writeError(w, apierr.Internal(err, "write staged file"))
		return
	}
	s.files.markUploaded(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFilesRegister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("file_id")
	if !s.files.isUploaded(id) {
		writeError(w, apierr.NotFound("no uploaded content for file %q", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_id": id, "path": s.files.path(id)})
}

func (s *Server) handleFilesDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("file_id")
	if !s.files.isUploaded(id) {
		writeError(w, apierr.NotFound("file %q not found", id))
		return
	}
	http.ServeFile(w, r, s.files.path(id))
}
