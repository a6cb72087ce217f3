// Package auth is the storage core's auth core: API key
// hashing and verification, the project/branch/driver authorization
// decision functions, pre-signed URL signing, and AWS SigV4
// verification for the S3 surface.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/types"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the number of leading characters of a generated key
// kept as a lookup prefix, at least 8.
const KeyPrefixLen = 12

// GenerateKey returns a new random API key string, "sk_" prefixed.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apierr.Internal(err, "generate api key")
	}
	return "sk_" + hex.EncodeToString(buf), nil
}

// KeyPrefix returns the first KeyPrefixLen characters of k, used as a
// non-secret lookup key into the metadata store.
func KeyPrefix(k string) string {
	if len(k) <= KeyPrefixLen {
		return k
	}
	return k[:KeyPrefixLen]
}

// HashKey applies a salt-and-stretch password hash to k. bcrypt is
// deliberately used instead of a plain SHA digest.
func HashKey(k string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(k), bcrypt.DefaultCost)
	if err != nil {
		return "", apierr.Internal(err, "hash api key")
	}
	return string(hash), nil
}

// VerifyKeyHash performs the constant-time (within bcrypt's own
// comparison) verification of k against hash.
func VerifyKeyHash(hash, k string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(k)) == nil
}

// Authenticator resolves API keys against the metadata store and the
// process-wide admin secret.
type Authenticator struct {
	store    metadata.Store
	adminKey string
}

// New returns an Authenticator. adminKey is the process-wide admin
// secret, typically read once from an environment variable named by
// pkg/config.Config.AdminKeyEnvVar.
func New(store metadata.Store, adminKey string) *Authenticator {
	return &Authenticator{store: store, adminKey: adminKey}
}

// VerifyAdmin reports whether k equals the process-wide admin secret,
// compared in constant time.
func (a *Authenticator) VerifyAdmin(k string) bool {
	if a.adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(k), []byte(a.adminKey)) == 1
}

// resolveKey looks up k by prefix and verifies its hash. Returns
// apierr.KindAuth on any failure, never leaking whether the prefix
// existed versus the hash mismatched.
func (a *Authenticator) resolveKey(k string) (*types.APIKey, error) {
	rec, err := a.store.GetAPIKeyByPrefix(KeyPrefix(k))
	if err != nil {
		return nil, apierr.Auth("invalid api key")
	}
	if !VerifyKeyHash(rec.KeyHash, k) {
		return nil, apierr.Auth("invalid api key")
	}
	if !rec.Live(time.Now()) {
		return nil, apierr.Auth("api key is revoked or expired")
	}
	a.store.UpdateAPIKeyLastUsed(rec.ID)
	return rec, nil
}

// AuthorizeProject checks a credential's access to a specific project.
func (a *Authenticator) AuthorizeProject(k, projectID string) (*types.APIKey, error) {
	if a.VerifyAdmin(k) {
		return nil, nil
	}
	rec, err := a.resolveKey(k)
	if err != nil {
		return nil, err
	}
	if rec.ProjectID != projectID {
		return nil, apierr.Authz("api key is not authorized for project %q", projectID)
	}
	return rec, nil
}

// AuthorizeBranch checks a credential's access to a specific branch.
func (a *Authenticator) AuthorizeBranch(k, projectID, branchID string) (*types.APIKey, error) {
	if a.VerifyAdmin(k) {
		return nil, nil
	}
	rec, err := a.resolveKey(k)
	if err != nil {
		return nil, err
	}
	if rec.ProjectID != projectID {
		return nil, apierr.Authz("api key is not authorized for project %q", projectID)
	}
	switch rec.Scope {
	case types.ScopeProjectAdmin:
		return rec, nil
	case types.ScopeBranchAdmin, types.ScopeBranchRead:
		if rec.BranchID != branchID {
			return nil, apierr.Authz("api key is not authorized for branch %q", branchID)
		}
		return rec, nil
	default:
		return nil, apierr.Authz("api key scope %q is not authorized", rec.Scope)
	}
}

// AuthorizeDriver accepts any live key (admin or project); the caller
// must separately re-check the command body's project id against the
// resolved key's project id.
func (a *Authenticator) AuthorizeDriver(k string) (*types.APIKey, error) {
	if a.VerifyAdmin(k) {
		return nil, nil
	}
	return a.resolveKey(k)
}

// --- Pre-signed URLs ---

// Signer issues and verifies pre-signed URL signatures bound to
// {method, bucket, key, expires} via HMAC-SHA256 of a server secret
//.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) signature(method, bucket, key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%d", method, bucket, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the query parameters (expires, signature) to append to
// a pre-signed URL valid until now+ttl.
func (s *Signer) Sign(method, bucket, key string, ttl time.Duration) (expires int64, signature string) {
	expires = time.Now().Add(ttl).Unix()
	signature = s.signature(method, bucket, key, expires)
	return expires, signature
}

// Verify checks a presented (expires, signature) pair in constant
// time, failing on expiry, method/path mismatch, or tampering.
func (s *Signer) Verify(method, bucket, key string, expires int64, signature string) error {
	if time.Now().Unix() > expires {
		return apierr.Auth("pre-signed url has expired")
	}
	expected := s.signature(method, bucket, key, expires)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return apierr.Auth("pre-signed url signature mismatch")
	}
	return nil
}

// --- AWS SigV4 (S3 surface) ---

// SigV4Credential is a resolved access-key record the S3 surface uses
// to verify an AWS4-HMAC-SHA256 Authorization header.
type SigV4Credential struct {
	AccessKeyID string
	SecretKey   string
}

// SigV4Request carries the canonical request components needed to
// reproduce the signature.
type SigV4Request struct {
	Method           string
	CanonicalURI     string
	CanonicalQuery   string
	CanonicalHeaders string // lower-cased "k:v\n" lines, sorted
	SignedHeaders    string // ";"-joined lower-cased header names, sorted
	PayloadHash      string // hex sha256 of the body, or "UNSIGNED-PAYLOAD"
	Region           string
	Service          string // "s3"
	AMZDate          string // YYYYMMDD'T'HHMMSS'Z'
	Signature        string // from the request's Authorization header
}

// VerifySigV4 reproduces the AWS SigV4 signing process and compares it
// to the signature the client presented, verifying it against the
// recorded access key's secret.
func VerifySigV4(req SigV4Request, cred SigV4Credential) error {
	dateStamp := req.AMZDate[:8]

	canonicalRequest := strings.Join([]string{
		req.Method,
		req.CanonicalURI,
		req.CanonicalQuery,
		req.CanonicalHeaders,
		req.SignedHeaders,
		req.PayloadHash,
	}, "\n")

	credentialScope := strings.Join([]string{dateStamp, req.Region, req.Service, "aws4_request"}, "/")
	hashedCanonicalRequest := sha256Hex(canonicalRequest)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		req.AMZDate,
		credentialScope,
		hashedCanonicalRequest,
	}, "\n")

	signingKey := sigV4SigningKey(cred.SecretKey, dateStamp, req.Region, req.Service)
	expected := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(req.Signature)) != 1 {
		return apierr.Auth("AWS SigV4 signature mismatch")
	}
	return nil
}

func sigV4SigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ExtractCredential pulls a bearer credential out of the headers the
// S3 surface sees, checked in order: Bearer, then
// X-Api-Key, then x-amz-security-token, then AWS4-HMAC-SHA256.
func ExtractCredential(headers map[string]string) (value string, isSigV4 bool) {
	if v := headers["Authorization"]; strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer "), false
	}
	if v := headers["X-Api-Key"]; v != "" {
		return v, false
	}
	if v := headers["x-amz-security-token"]; v != "" {
		return v, false
	}
	if v := headers["Authorization"]; strings.HasPrefix(v, "AWS4-HMAC-SHA256") {
		return v, true
	}
	return "", false
}

// ParseSigV4Header extracts AccessKeyID, SignedHeaders and Signature
// out of an `AWS4-HMAC-SHA256 Credential=..., SignedHeaders=..., Signature=...` value.
func ParseSigV4Header(header string) (accessKeyID, signedHeaders, signature string, err error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "AWS4-HMAC-SHA256" {
		return "", "", "", apierr.Auth("malformed AWS4-HMAC-SHA256 authorization header")
	}
	for _, field := range strings.Split(parts[1], ",") {
		kv := strings.SplitN(strings.TrimSpace(field), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "Credential":
			credParts := strings.Split(kv[1], "/")
			if len(credParts) > 0 {
				accessKeyID = credParts[0]
			}
		case "SignedHeaders":
			signedHeaders = kv[1]
		case "Signature":
			signature = kv[1]
		}
	}
	if accessKeyID == "" || signature == "" {
		return "", "", "", apierr.Auth("incomplete AWS4-HMAC-SHA256 authorization header")
	}
	return accessKeyID, signedHeaders, signature, nil
}

// VerifyContentMD5 checks the base64 Content-MD5 header, if present,
// against the MD5 of body.
func VerifyContentMD5(header string, md5hex string) error {
	if header == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return apierr.Validation("invalid Content-MD5 header")
	}
	expectedHex := hex.EncodeToString(decoded)
	if expectedHex != md5hex {
		return apierr.Validation("BadDigest: Content-MD5 does not match body")
	}
	return nil
}

// WorkspacePasswordHash hashes a workspace password with SHA-256, per
// a deliberately faster hash than bcrypt because it
// compares against a fixed per-connection hash on every PG-wire login,
// not a rotating key a human types.
func WorkspacePasswordHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyWorkspacePassword compares password's SHA-256 against hash in
// constant time.
func VerifyWorkspacePassword(hash, password string) bool {
	computed := WorkspacePasswordHash(password)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(computed)) == 1
}

// GenerateWorkspacePassword returns a random, URL-safe, 32-character password.
func GenerateWorkspacePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", apierr.Internal(err, "generate workspace password")
	}
	enc := base64.RawURLEncoding.EncodeToString(buf)
	if len(enc) > 32 {
		enc = enc[:32]
	}
	return enc, nil
}

// ParseUnixSeconds parses a presigned URL's "expires" query parameter.
func ParseUnixSeconds(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apierr.Validation("invalid expires parameter: %q", s)
	}
	return v, nil
}
