// Package log provides structured logging for the storage core using
// zerolog. It wraps a single global zerolog.Logger, initialized once via
// Init, with helper constructors for the scopes the core logs against:
// project, table, branch, workspace, session and request.
//
// Components (pkg/metadata, pkg/pgwire, pkg/workspace, ...) log through
// WithComponent/WithSession/WithWorkspace/etc. and attach identifying
// fields rather than interpolating them into the message string, so log
// lines stay greppable by field instead of by substring.
//
// Setting up the process-wide sink (which file, which level, whether JSON
// or console) is the caller's job — see "structured-logger
// setup" is listed as an external collaborator. This package only defines
// the shape callers log through.
package log
