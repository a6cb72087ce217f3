// Package pgwire speaks PostgreSQL wire protocol v3 against a
// workspace's DuckDB file: startup/auth, attach of project tables as
// read-only views, and the simple/extended query loop.
package pgwire
