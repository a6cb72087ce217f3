package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/idempotency"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/metrics"
)

// statusRecorder captures the status code a handler wrote, since
// http.ResponseWriter doesn't expose it back to the caller.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMiddleware wraps a handler with request logging, Prometheus
// metrics and idempotency replay — one wrapper per mounted route on a
// plain ServeMux, generalized into a reusable chain.
func (s *Server) withMiddleware(route string, h http.HandlerFunc) http.HandlerFunc {
	if s.deps.Idempotency != nil {
		h = s.idempotent(h)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r)

		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
		log.WithRequest(r.Header.Get("X-Request-Id")).Debug().
			Str("route", route).Str("method", r.Method).Int("status", rec.status).
			Dur("duration", time.Since(start)).Msg("http request")
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// idempotent replays a cached response when the caller supplies an
// X-Idempotency-Key matching a prior request's fingerprint, and caches
// a fresh response otherwise.
func (s *Server) idempotent(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Idempotency-Key")
		if key == "" || !isMutating(r.Method) {
			h(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, apierr.Validation("read request body: %v", err))
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		fp := idempotency.Fingerprint(body)

		if entry, found := s.deps.Idempotency.Lookup(key); found {
			if entry.Fingerprint != fp {
				writeError(w, apierr.Conflict("idempotency key %q reused with a different request body", key))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(entry.StatusCode)
			_, _ = w.Write(entry.Body)
			return
		}

		capture := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
		h(capture, r)
		_ = s.deps.Idempotency.Store(key, fp, capture.status, capture.body)
	}
}

// capturingWriter buffers a handler's response so it can be cached
// alongside the idempotency key that produced it.
type capturingWriter struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (c *capturingWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	c.body = append(c.body, b...)
	return c.ResponseWriter.Write(b)
}

// bearerToken extracts the caller's credential from Authorization:
// Bearer or X-Api-Key, the two forms this surface recognizes.
func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return r.Header.Get("X-Api-Key")
}

func (s *Server) adminOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.Auth.VerifyAdmin(bearerToken(r)) {
			writeError(w, apierr.Auth("admin credential required"))
			return
		}
		h(w, r)
	}
}

// requireAdmin is the same admin-only check, named separately from
// adminOnly for the routes (like project creation) where there is no
// existing project scope to authorize against yet.
func (s *Server) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return s.adminOnly(h)
}

func (s *Server) requireProject(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid := r.PathValue("pid")
		if _, err := s.deps.Auth.AuthorizeProject(bearerToken(r), pid); err != nil {
			writeError(w, err)
			return
		}
		h(w, r)
	}
}

func (s *Server) requireBranch(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, bid := r.PathValue("pid"), r.PathValue("bid")
		if _, err := s.deps.Auth.AuthorizeBranch(bearerToken(r), pid, bid); err != nil {
			writeError(w, err)
			return
		}
		h(w, r)
	}
}

// requireDriver accepts any live key; the handler itself is
// responsible for re-checking the resource's project id against the
// resolved key where that matters.
func (s *Server) requireDriver(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.deps.Auth.AuthorizeDriver(bearerToken(r)); err != nil {
			writeError(w, err)
			return
		}
		h(w, r)
	}
}
