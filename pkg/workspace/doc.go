// Package workspace implements ephemeral per-project SQL sandboxes:
// create/get/delete/clear/drop_object/reset_credentials/load_tables,
// each operating on a workspace's own DuckDB file via pkg/engine.
package workspace
