// Package s3api is the storage core's S3-compatible surface (spec
// §4.K, §6.2): PUT/GET/HEAD/DELETE and ListObjectsV2 over a flat
// per-project, per-bucket blob namespace, plus pre-signed URL issuance
// and verification. It is a second wire protocol onto the same
// project-scoped storage as pkg/httpapi's file-staging flow, not a
// view onto the DuckDB table files pkg/engine manages.
package s3api
