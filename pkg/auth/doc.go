// Package auth implements the storage core's auth core: API key
// hashing and the authorize_project/authorize_branch/authorize_driver
// decision functions, pre-signed URL HMAC signing and AWS SigV4
// verification for the S3 surface, and the workspace credential hash
// used by the PG-wire session engine.
package auth
