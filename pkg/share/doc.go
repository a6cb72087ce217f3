// Package share implements cross-project bucket sharing: a source
// project records a share, a target project links it by attaching the
// source bucket's table files read-only into its own link catalog and
// projecting one view per table.
package share
