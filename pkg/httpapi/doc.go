// Package httpapi is the storage core's HTTP control plane (spec
// §4.K): REST resources over projects, buckets, tables, branches,
// workspaces, bucket sharing and snapshots, plus the driver bridge
// envelope and the internal PG-wire session admin endpoints.
package httpapi
