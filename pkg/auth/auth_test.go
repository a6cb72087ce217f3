package auth

import (
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) metadata.Store {
	t.Helper()
	store, err := metadata.NewBoltStore(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedKey(t *testing.T, store metadata.Store, plain, projectID, branchID string, scope types.APIKeyScope) {
	t.Helper()
	hash, err := HashKey(plain)
	require.NoError(t, err)
	require.NoError(t, store.CreateAPIKey(&types.APIKey{
		ID:        plain + "-id",
		ProjectID: projectID,
		BranchID:  branchID,
		Scope:     scope,
		KeyHash:   hash,
		KeyPrefix: KeyPrefix(plain),
	}))
}

func TestHashAndVerifyKey(t *testing.T) {
	hash, err := HashKey("sk_supersecret")
	require.NoError(t, err)
	assert.True(t, VerifyKeyHash(hash, "sk_supersecret"))
	assert.False(t, VerifyKeyHash(hash, "sk_wrong"))
}

func TestVerifyAdmin(t *testing.T) {
	a := New(nil, "admin-secret")
	assert.True(t, a.VerifyAdmin("admin-secret"))
	assert.False(t, a.VerifyAdmin("wrong"))
}

func TestAuthorizeProjectAsAdmin(t *testing.T) {
	store := newTestStore(t)
	a := New(store, "admin-secret")

	rec, err := a.AuthorizeProject("admin-secret", "p1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAuthorizeProjectWithProjectKey(t *testing.T) {
	store := newTestStore(t)
	a := New(store, "admin-secret")
	seedKey(t, store, "sk_projectkey123", "p1", "", types.ScopeProjectAdmin)

	rec, err := a.AuthorizeProject("sk_projectkey123", "p1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "p1", rec.ProjectID)

	_, err = a.AuthorizeProject("sk_projectkey123", "p2")
	require.Error(t, err)
	assert.Equal(t, apierr.KindAuthz, apierr.KindOf(err))
}

func TestAuthorizeBranchScopes(t *testing.T) {
	store := newTestStore(t)
	a := New(store, "admin-secret")
	seedKey(t, store, "sk_branchadmin", "p1", "br1", types.ScopeBranchAdmin)
	seedKey(t, store, "sk_branchread", "p1", "br1", types.ScopeBranchRead)
	seedKey(t, store, "sk_projadmin", "p1", "", types.ScopeProjectAdmin)

	_, err := a.AuthorizeBranch("sk_branchadmin", "p1", "br1")
	require.NoError(t, err)

	_, err = a.AuthorizeBranch("sk_branchadmin", "p1", "br2")
	require.Error(t, err)
	assert.Equal(t, apierr.KindAuthz, apierr.KindOf(err))

	_, err = a.AuthorizeBranch("sk_branchread", "p1", "br1")
	require.NoError(t, err)

	// project_admin scope authorizes any branch in the project.
	_, err = a.AuthorizeBranch("sk_projadmin", "p1", "br-anything")
	require.NoError(t, err)
}

func TestAuthorizeRejectsRevokedKey(t *testing.T) {
	store := newTestStore(t)
	a := New(store, "admin-secret")
	seedKey(t, store, "sk_willberevoked", "p1", "", types.ScopeProjectAdmin)

	require.NoError(t, store.RevokeAPIKey("sk_willberevoked-id"))

	_, err := a.AuthorizeProject("sk_willberevoked", "p1")
	require.Error(t, err)
	assert.Equal(t, apierr.KindAuth, apierr.KindOf(err))
}

func TestAuthorizeRejectsExpiredKey(t *testing.T) {
	store := newTestStore(t)
	a := New(store, "admin-secret")

	hash, err := HashKey("sk_expiring")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateAPIKey(&types.APIKey{
		ID: "exp-id", ProjectID: "p1", Scope: types.ScopeProjectAdmin,
		KeyHash: hash, KeyPrefix: KeyPrefix("sk_expiring"), ExpiresAt: &past,
	}))

	_, err = a.AuthorizeProject("sk_expiring", "p1")
	require.Error(t, err)
	assert.Equal(t, apierr.KindAuth, apierr.KindOf(err))
}

func TestSignerSignAndVerify(t *testing.T) {
	s := NewSigner("server-secret")
	expires, sig := s.Sign("GET", "my-bucket", "path/to/key", time.Hour)

	err := s.Verify("GET", "my-bucket", "path/to/key", expires, sig)
	assert.NoError(t, err)

	err = s.Verify("PUT", "my-bucket", "path/to/key", expires, sig)
	assert.Error(t, err)

	err = s.Verify("GET", "my-bucket", "path/to/key", time.Now().Add(-time.Hour).Unix(), sig)
	assert.Error(t, err)
}

func TestVerifySigV4RoundTrip(t *testing.T) {
	cred := SigV4Credential{AccessKeyID: "AKIDEXAMPLE", SecretKey: "secretkey"}

	req := SigV4Request{
		Method:           "GET",
		CanonicalURI:     "/bucket/key",
		CanonicalQuery:   "",
		CanonicalHeaders: "host:s3.example.com\n",
		SignedHeaders:    "host",
		PayloadHash:      sha256Hex(""),
		Region:           "us-east-1",
		Service:          "s3",
		AMZDate:          "20260115T000000Z",
	}

	canonicalRequest := req.Method + "\n" + req.CanonicalURI + "\n" + req.CanonicalQuery + "\n" +
		req.CanonicalHeaders + "\n" + req.SignedHeaders + "\n" + req.PayloadHash
	dateStamp := req.AMZDate[:8]
	scope := dateStamp + "/" + req.Region + "/" + req.Service + "/aws4_request"
	stringToSign := "AWS4-HMAC-SHA256\n" + req.AMZDate + "\n" + scope + "\n" + sha256Hex(canonicalRequest)
	key := sigV4SigningKey(cred.SecretKey, dateStamp, req.Region, req.Service)
	req.Signature = hex.EncodeToString(hmacSHA256(key, stringToSign))

	require.NoError(t, VerifySigV4(req, cred))

	req.Signature = "tampered"
	assert.Error(t, VerifySigV4(req, cred))
}

func TestExtractCredentialOrder(t *testing.T) {
	v, isSigV4 := ExtractCredential(map[string]string{"Authorization": "Bearer abc123"})
	assert.Equal(t, "abc123", v)
	assert.False(t, isSigV4)

	v, _ = ExtractCredential(map[string]string{"X-Api-Key": "apikeyvalue"})
	assert.Equal(t, "apikeyvalue", v)

	v, isSigV4 = ExtractCredential(map[string]string{"Authorization": "AWS4-HMAC-SHA256 Credential=x"})
	assert.True(t, isSigV4)
	assert.Contains(t, v, "AWS4-HMAC-SHA256")
}

func TestVerifyContentMD5(t *testing.T) {
	// md5("hello") = 5d41402abc4b2a76b9719d911017c592, base64 of those
	// raw bytes is "XUFAKrxLKna5cZ2REBfFkg==".
	err := VerifyContentMD5("XUFAKrxLKna5cZ2REBfFkg==", "5d41402abc4b2a76b9719d911017c592")
	assert.NoError(t, err)

	err = VerifyContentMD5("XUFAKrxLKna5cZ2REBfFkg==", "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.Error(t, err)

	assert.NoError(t, VerifyContentMD5("", "anything"))
}

func TestWorkspacePasswordHashRoundTrip(t *testing.T) {
	hash := WorkspacePasswordHash("sw0rdfish")
	assert.True(t, VerifyWorkspacePassword(hash, "sw0rdfish"))
	assert.False(t, VerifyWorkspacePassword(hash, "wrong"))
}

func TestGenerateWorkspacePassword(t *testing.T) {
	p1, err := GenerateWorkspacePassword()
	require.NoError(t, err)
	p2, err := GenerateWorkspacePassword()
	require.NoError(t, err)
	assert.Len(t, p1, 32)
	assert.NotEqual(t, p1, p2)
}
