// Package engine runs DDL, DML, import/export and profiling against a
// single DuckDB file via database/sql and
// github.com/duckdb/duckdb-go/v2. One Engine value maps to one open
// connection to one .duckdb file; the caller owns the table lock and
// the Engine's lifetime.
package engine
