package s3api

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/keboola/storage-core/pkg/auth"
)

// handlePutObject implements PUT /s3/{bucket}/{key...}.
// Content-MD5, when present, is verified against the uploaded body
// before the write is committed.
func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, projectID string) {
	bucket := r.PathValue("bucket")
	key, ok := sanitizeKey(r.PathValue("key"))
	if !ok {
		writeXMLError(w, http.StatusBadRequest, "InvalidArgument", "invalid object key", r.URL.Path)
		return
	}
	path := s.objectPath(projectID, bucket, key)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeXMLError(w, http.StatusBadRequest, "InvalidArgument", "failed to read body: "+err.Error(), r.URL.Path)
		return
	}

	sum := md5.Sum(body)
	md5Hex := hex.EncodeToString(sum[:])
	if err := auth.VerifyContentMD5(r.Header.Get("Content-MD5"), md5Hex); err != nil {
		writeXMLError(w, http.StatusBadRequest, "BadDigest", err.Error(), r.URL.Path)
		return
	}

	if err := ensureDir(path); err != nil {
		writeXMLError(w, http.StatusInternalServerError, "InternalError", err.Error(), r.URL.Path)
		return
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		writeXMLError(w, http.StatusInternalServerError, "InternalError", err.Error(), r.URL.Path)
		return
	}

	w.Header().Set("ETag", `"`+md5Hex+`"`)
	w.WriteHeader(http.StatusOK)
}

// handleGetObject implements GET /s3/{bucket}/{key...}.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request, projectID string) {
	bucket := r.PathValue("bucket")
	key, ok := sanitizeKey(r.PathValue("key"))
	if !ok {
		writeXMLError(w, http.StatusBadRequest, "InvalidArgument", "invalid object key", r.URL.Path)
		return
	}
	path := s.objectPath(projectID, bucket, key)

	info, err := os.Stat(path)
	if err != nil {
		writeXMLError(w, http.StatusNotFound, "NoSuchKey", "the specified key does not exist", key)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeXMLError(w, http.StatusInternalServerError, "InternalError", err.Error(), r.URL.Path)
		return
	}
	defer f.Close()

	setObjectHeaders(w, info.Size(), info.ModTime(), path)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

// handleHeadObject implements HEAD /s3/{bucket}/{key...}: identical to
// GET minus the body, the standard HTTP HEAD contract.
func (s *Server) handleHeadObject(w http.ResponseWriter, r *http.Request, projectID string) {
	bucket := r.PathValue("bucket")
	key, ok := sanitizeKey(r.PathValue("key"))
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	path := s.objectPath(projectID, bucket, key)

	info, err := os.Stat(path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	setObjectHeaders(w, info.Size(), info.ModTime(), path)
	w.WriteHeader(http.StatusOK)
}

// handleDeleteObject implements DELETE /s3/{bucket}/{key...}, 204 on a
// key that never existed included — S3 delete is idempotent.
func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request, projectID string) {
	bucket := r.PathValue("bucket")
	key, ok := sanitizeKey(r.PathValue("key"))
	if !ok {
		writeXMLError(w, http.StatusBadRequest, "InvalidArgument", "invalid object key", r.URL.Path)
		return
	}
	path := s.objectPath(projectID, bucket, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		writeXMLError(w, http.StatusInternalServerError, "InternalError", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListObjects implements GET /s3/{bucket}?list-type=2, supporting
// prefix, delimiter and max-keys.
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request, projectID string) {
	bucket := r.PathValue("bucket")
	q := r.URL.Query()
	if q.Get("list-type") != "2" {
		writeXMLError(w, http.StatusBadRequest, "InvalidArgument", "only list-type=2 is supported", r.URL.Path)
		return
	}
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	maxKeys := 1000
	if v := q.Get("max-keys"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxKeys = n
		}
	}

	dir := s.bucketDir(projectID, bucket)
	var keys []string
	var sizes = map[string]int64{}
	var mtimes = map[string]time.Time{}

	_ = walkFiles(dir, func(relKey string, size int64, modTime time.Time) {
		if !strings.HasPrefix(relKey, prefix) {
			return
		}
		keys = append(keys, relKey)
		sizes[relKey] = size
		mtimes[relKey] = modTime
	})
	sort.Strings(keys)

	result := ListBucketResult{Name: bucket, Prefix: prefix, Delimiter: delimiter, MaxKeys: maxKeys}
	seenPrefixes := map[string]bool{}

	for _, key := range keys {
		if len(result.Contents)+len(result.CommonPrefixes) >= maxKeys {
			result.IsTruncated = true
			break
		}
		if delimiter != "" {
			rest := strings.TrimPrefix(key, prefix)
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				cp := prefix + rest[:idx+len(delimiter)]
				if !seenPrefixes[cp] {
					seenPrefixes[cp] = true
					result.CommonPrefixes = append(result.CommonPrefixes, CommonPrefix{Prefix: cp})
				}
				continue
			}
		}
		result.Contents = append(result.Contents, Contents{
			Key:          key,
			LastModified: mtimes[key].UTC().Format(http.TimeFormat),
			ETag:         `"` + etagFor(dir, key) + `"`,
			Size:         sizes[key],
		})
	}
	result.KeyCount = len(result.Contents) + len(result.CommonPrefixes)

	writeXML(w, http.StatusOK, result)
}

func setObjectHeaders(w http.ResponseWriter, size int64, modTime time.Time, path string) {
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	if sum, err := fileMD5(path); err == nil {
		w.Header().Set("ETag", `"`+sum+`"`)
	}
}

func fileMD5(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func etagFor(dir, relKey string) string {
	sum, err := fileMD5(dir + string(os.PathSeparator) + strings.ReplaceAll(relKey, "/", string(os.PathSeparator)))
	if err != nil {
		return ""
	}
	return sum
}
