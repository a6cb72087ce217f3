// Package types holds the plain data structures shared across the
// storage core: the catalog entities persisted by pkg/metadata and the
// request/response shapes passed between pkg/engine, pkg/branch,
// pkg/snapshot, pkg/workspace, pkg/auth and the wire surfaces.
//
// Nothing in this package talks to disk, bbolt or DuckDB — it only
// defines what a Project, Bucket, Table, Branch, APIKey, Workspace,
// PGWireSession, BucketShare/BucketLink and Snapshot look like.
package types
