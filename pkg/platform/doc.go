// Package platform wires the storage core's components (A-K) into a
// single running process: one metadata store, one path resolver and
// lock manager shared by every domain engine, and the three wire
// surfaces (HTTP, S3, PG-wire) layered on top. cmd/storagecored is a
// thin flag-parsing shell around this package, the same division the
// teacher draws between cmd/warren/main.go and pkg/manager.
package platform
