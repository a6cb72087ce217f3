// Package snapshot resolves the hierarchical retention/trigger config
// chain (table > bucket > project > system) and performs manual and
// automatic table snapshots, restore, and retention GC. It borrows the
// caller's table lock and path resolver rather than owning any state
// itself.
package snapshot
