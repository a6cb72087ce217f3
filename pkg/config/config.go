// Package config holds the storage core's process-wide configuration.
// cmd/storagecored is responsible for populating a Config from flags
// and environment and handing it to pkg/platform; nothing in this
// package reads flags or env itself, mirroring how the platform's
// Manager/Worker Config structs are plain value types populated by
// their cmd/ entrypoint.
package config

import (
	"fmt"
	"time"
)

// Config is the full set of knobs the storage core needs to start.
type Config struct {
	// DataDir is the root of the on-disk layout pkg/pathresolver maps
	// into: {DataDir}/duckdb/project_{pid}/{bucket}/{table}.duckdb.
	DataDir string

	// MetadataPath is the bbolt database file backing pkg/metadata.
	MetadataPath string

	// AdminKeyEnvVar names the environment variable holding the
	// process-wide admin secret; the value itself is never stored in
	// Config so it doesn't end up in a dump or log line.
	AdminKeyEnvVar string

	// LockTimeout bounds how long a caller waits on pkg/tablelock
	// before the request fails with apierr.KindLockTimeout.
	LockTimeout time.Duration

	// IdempotencyTTL bounds how long pkg/idempotency remembers a
	// (key, fingerprint) -> response pairing.
	IdempotencyTTL time.Duration

	// WorkspaceDefaultTTL and WorkspaceMaxTTL bound pkg/workspace's
	// expires_at handling when a caller doesn't specify one.
	WorkspaceDefaultTTL time.Duration
	WorkspaceMaxTTL     time.Duration

	// SnapshotRetentionManualDays and SnapshotRetentionAutoDays are
	// checked by Validate only. pkg/snapshot does not read them: its
	// system-scope fallback is its own SystemDefaults (90 and 7 days).
	SnapshotRetentionManualDays int
	SnapshotRetentionAutoDays   int

	// HTTPAddr, S3Addr and PGWireAddr are the three wire-surface listen
	// addresses; an empty string disables that surface.
	HTTPAddr   string
	S3Addr     string
	PGWireAddr string

	// MetricsAddr serves the Prometheus scrape endpoint; empty disables it.
	MetricsAddr string

	// PGWireIdleTimeout and PGWireMaxSessions bound component J per
	// guards against resource-exhaustion edge cases on the PG-wire listener.
	PGWireIdleTimeout time.Duration
	PGWireMaxSessions int

	// PresignedURLTTL is not passed to pkg/s3api, which signs URLs for a
	// caller-supplied ttl_seconds or its own 15-minute default.
	PresignedURLTTL time.Duration

	LogLevel      string
	LogJSONOutput bool
}

// Default returns a Config populated with the storage core's defaults;
// cmd/storagecored starts from this and overrides via flags/env.
func Default() Config {
	return Config{
		DataDir:                     "./data",
		MetadataPath:                "./data/metadata.db",
		AdminKeyEnvVar:              "STORAGECORE_ADMIN_KEY",
		LockTimeout:                 30 * time.Second,
		IdempotencyTTL:              24 * time.Hour,
		WorkspaceDefaultTTL:         4 * time.Hour,
		WorkspaceMaxTTL:             72 * time.Hour,
		SnapshotRetentionManualDays: 90,
		SnapshotRetentionAutoDays:   7,
		HTTPAddr:                    ":8000",
		S3Addr:                      ":8001",
		PGWireAddr:                  ":5432",
		MetricsAddr:                 ":9090",
		PGWireIdleTimeout:           30 * time.Minute,
		PGWireMaxSessions:           200,
		PresignedURLTTL:             15 * time.Minute,
		LogLevel:                    "info",
		LogJSONOutput:               true,
	}
}

// Validate checks the invariants pkg/platform relies on before wiring
// components A-K together.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.MetadataPath == "" {
		return fmt.Errorf("config: metadata_path must not be empty")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: lock_timeout must be positive")
	}
	if c.WorkspaceMaxTTL < c.WorkspaceDefaultTTL {
		return fmt.Errorf("config: workspace_max_ttl must be >= workspace_default_ttl")
	}
	if c.SnapshotRetentionManualDays <= 0 || c.SnapshotRetentionAutoDays <= 0 {
		return fmt.Errorf("config: snapshot retention days must be positive")
	}
	return nil
}
