// Package tablelock is a scoped, FIFO-ish exclusive lock keyed by
// table. Every mutating per-table engine operation acquires one before
// touching a table's DuckDB file; preview and profile-read run
// unlocked, since the contract only protects writers from each other
//.
package tablelock
