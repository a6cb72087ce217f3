// Package metadata is the storage core's durable catalog: every
// project, bucket, table, branch, API key, workspace, PG-wire session,
// bucket share/link, snapshot and snapshot-config override it stores
// lives in one bbolt database, one bucket per entity type, one JSON
// document per row.
//
// Every Store method is a single bbolt transaction, so a failure
// midway through a method leaves the database exactly as it was
// before the call — there is no partial-write state for callers to
// reason about. Composite keys ("project/bucket", "project/bucket/
// table") are plain "/"-joined strings; bbolt's cursor ordering makes
// prefix scans over those keys a cheap alternative to a secondary
// index for the listing methods.
//
// The catalog is not the source of truth for whether a table's file
// exists on disk — pkg/pathresolver and the filesystem are. A Table
// row can be rebuilt by re-profiling the .duckdb file it names; the
// reverse is not true, which is why DeleteTable never touches a file
// and the per-table engine never writes a Table row on its own.
package metadata
