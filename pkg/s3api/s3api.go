package s3api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keboola/storage-core/pkg/auth"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/metrics"
	"github.com/keboola/storage-core/pkg/pathresolver"
)

// Deps are the collaborators the S3 surface needs. It deliberately
// does not take metadata.Store or tablelock.Manager: objects live in a
// flat blob namespace, not the DuckDB catalog pkg/httpapi manages.
type Deps struct {
	Auth   *auth.Authenticator
	Signer *auth.Signer
	Paths  *pathresolver.Resolver
}

// Server serves the S3-compatible surface.
type Server struct {
	deps Deps
	root string
}

// New returns the S3-compatible http.Handler, routed with the same
// plain http.ServeMux idiom pkg/httpapi uses.
func New(deps Deps) http.Handler {
	s := &Server{deps: deps, root: filepath.Join(deps.Paths.DataRoot(), "..", "_s3")}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /s3/{bucket}/{key...}", s.instrument("put_object", s.withAuth(s.handlePutObject)))
	mux.HandleFunc("GET /s3/{bucket}/{key...}", s.instrument("get_object", s.withAuth(s.handleGetObject)))
	mux.HandleFunc("HEAD /s3/{bucket}/{key...}", s.instrument("head_object", s.withAuth(s.handleHeadObject)))
	mux.HandleFunc("DELETE /s3/{bucket}/{key...}", s.instrument("delete_object", s.withAuth(s.handleDeleteObject)))
	mux.HandleFunc("POST /s3/{bucket}/presign", s.instrument("presign", s.withAuth(s.handlePresign)))
	mux.HandleFunc("GET /s3/{bucket}", s.instrument("list_objects", s.withAuth(s.handleListObjects)))

	return mux
}

// objectPath resolves a project-scoped blob path:
// <data_root>/_s3/<project_id>/<bucket>/<key...>. The S3 surface has
// no project URL segment (unlike pkg/httpapi), so the project comes
// from the authenticated credential instead.
func (s *Server) objectPath(projectID, bucket, key string) string {
	return filepath.Join(s.root, projectID, bucket, filepath.FromSlash(key))
}

func (s *Server) bucketDir(projectID, bucket string) string {
	return filepath.Join(s.root, projectID, bucket)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.HTTPRequestDuration.WithLabelValues("s3_" + route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues("s3_"+route, http.StatusText(rec.status)).Inc()
		log.WithRequest(r.Header.Get("X-Request-Id")).Debug().
			Str("route", "s3_"+route).Str("method", r.Method).Int("status", rec.status).
			Str("bucket", r.PathValue("bucket")).Msg("s3 request")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withAuth resolves the caller's credential (Bearer, X-Api-Key, or
// AWS4-HMAC-SHA256, checked in that order) and binds the request to
// its owning project. SigV4 is recognized only far enough to reject it
// with a clear error: verifying it would need the access key's raw
// secret, but API keys are stored as a one-way bcrypt hash, so every
// real request must present a Bearer or X-Api-Key credential instead.
func (s *Server) withAuth(h func(w http.ResponseWriter, r *http.Request, projectID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		headers := map[string]string{
			"Authorization":        r.Header.Get("Authorization"),
			"X-Api-Key":            r.Header.Get("X-Api-Key"),
			"x-amz-security-token": r.Header.Get("x-amz-security-token"),
		}
		cred, isSigV4 := auth.ExtractCredential(headers)
		if cred == "" {
			writeXMLError(w, http.StatusUnauthorized, "AccessDenied", "no credential supplied", r.URL.Path)
			return
		}
		if isSigV4 {
			writeXMLError(w, http.StatusNotImplemented, "NotImplemented",
				"AWS4-HMAC-SHA256 signature verification is not supported; use a Bearer or X-Api-Key credential", r.URL.Path)
			return
		}
		rec, err := s.deps.Auth.AuthorizeDriver(cred)
		if err != nil {
			writeXMLErrorFromAPIErr(w, err, r.URL.Path)
			return
		}
		projectID := ""
		if rec != nil {
			projectID = rec.ProjectID
		} else if pid := r.Header.Get("X-Project-Id"); pid != "" {
			// Admin keys carry no project of their own; the S3 surface
			// requires an explicit project to scope the blob namespace.
			projectID = pid
		}
		if projectID == "" {
			writeXMLError(w, http.StatusBadRequest, "InvalidArgument", "admin credential requires X-Project-Id header", r.URL.Path)
			return
		}
		h(w, r, projectID)
	}
}

func sanitizeKey(key string) (string, bool) {
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
