package s3api

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/keboola/storage-core/pkg/auth"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/types"
	"github.com/stretchr/testify/require"
)

const adminKey = "test-admin-key"

func newFixture(t *testing.T) (http.Handler, metadata.Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := metadata.NewBoltStore(filepath.Join(root, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateProject(&types.Project{ID: "p1", Status: types.ProjectActive}))

	plain, err := auth.GenerateKey()
	require.NoError(t, err)
	hash, err := auth.HashKey(plain)
	require.NoError(t, err)
	require.NoError(t, store.CreateAPIKey(&types.APIKey{
		ID: "key_p1", ProjectID: "p1", Scope: types.ScopeProjectAdmin,
		KeyHash: hash, KeyPrefix: auth.KeyPrefix(plain), CreatedAt: time.Now(),
	}))

	deps := Deps{
		Auth:   auth.New(store, adminKey),
		Signer: auth.NewSigner("presign-secret"),
		Paths:  pathresolver.New(filepath.Join(root, "data")),
	}
	return New(deps), store, plain
}

func TestPutGetRoundTrip(t *testing.T) {
	h, _, key := newFixture(t)

	put := httptest.NewRequest(http.MethodPut, "/s3/in_data/a/b.csv", bytes.NewReader([]byte("hello")))
	put.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("ETag"))

	get := httptest.NewRequest(http.MethodGet, "/s3/in_data/a/b.csv", nil)
	get.Header.Set("Authorization", "Bearer "+key)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestGetMissingKeyReturnsXMLNoSuchKey(t *testing.T) {
	h, _, key := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/s3/in_data/missing.csv", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "NoSuchKey", body.Code)
}

func TestPutBadContentMD5Rejected(t *testing.T) {
	h, _, key := newFixture(t)

	req := httptest.NewRequest(http.MethodPut, "/s3/in_data/a.csv", bytes.NewReader([]byte("hello")))
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-MD5", "bm90LW1hdGNoaW5n")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "BadDigest", body.Code)
}

func TestDeleteMissingKeyIsIdempotent(t *testing.T) {
	h, _, key := newFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/s3/in_data/never-existed.csv", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListObjectsWithPrefixAndDelimiter(t *testing.T) {
	h, _, key := newFixture(t)

	for _, k := range []string{"a/1.csv", "a/2.csv", "b/3.csv"} {
		req := httptest.NewRequest(http.MethodPut, "/s3/in_data/"+k, bytes.NewReader([]byte("x")))
		req.Header.Set("Authorization", "Bearer "+key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/s3/in_data?list-type=2&delimiter=/", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result ListBucketResult
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &result))
	require.ElementsMatch(t, []CommonPrefix{{Prefix: "a/"}, {Prefix: "b/"}}, result.CommonPrefixes)
}

func TestPresignReturnsSignedURL(t *testing.T) {
	h, _, key := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/s3/in_data/presign",
		bytes.NewReader([]byte(`{"key":"a/b.csv","method":"GET"}`)))
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "signature=")
}

func TestSigV4CredentialIsRejectedAsUnsupported(t *testing.T) {
	h, _, _ := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/s3/in_data/a.csv", nil)
	req.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20260731/us-east-1/s3/aws4_request, SignedHeaders=host, Signature=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
