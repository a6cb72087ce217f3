package s3api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
)

const defaultPresignTTL = 15 * time.Minute

type presignRequest struct {
	Key        string `json:"key"`
	Method     string `json:"method"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type presignResponse struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresAt string `json:"expires_at"`
}

// handlePresign implements POST /s3/{bucket}/presign, returning
// {url, method, expires_at}. The response is JSON, not XML:
// it is a storage-core control-plane extension to the S3 surface, not
// an operation a real S3 client performs, so it doesn't need to match
// S3's error/response wire shape.
func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request, projectID string) {
	bucket := r.PathValue("bucket")

	var req presignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeXMLErrorFromAPIErr(w, err, r.URL.Path)
		return
	}
	if req.Key == "" {
		writeXMLErrorFromAPIErr(w, apierr.Validation("key is required"), r.URL.Path)
		return
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	ttl := defaultPresignTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	expires, signature := s.deps.Signer.Sign(method, bucket, req.Key, ttl)

	url := "/s3/" + bucket + "/" + req.Key +
		"?X-Project-Id=" + projectID +
		"&expires=" + strconv.FormatInt(expires, 10) +
		"&signature=" + signature

	writeJSONResponse(w, http.StatusOK, presignResponse{
		URL:       url,
		Method:    method,
		ExpiresAt: time.Unix(expires, 0).UTC().Format(time.RFC3339),
	})
}

func writeJSONResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonEncode(w, v)
}
