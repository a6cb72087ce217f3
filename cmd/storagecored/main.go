// Command storagecored is the storage core's entrypoint binary: a thin
// cobra shell around pkg/config and pkg/platform, not a bucket/table
// CLI front-end (that surface is explicitly out of scope here).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keboola/storage-core/pkg/config"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/platform"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "storagecored",
	Short:   "Storage core: per-table DuckDB files behind HTTP, S3 and PG-wire surfaces",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("storagecored version %s (%s)\n", Version, Commit))

	flags := serveCmd.Flags()
	cfg := config.Default()
	flags.String("data-dir", cfg.DataDir, "Root directory for project/bucket/table DuckDB files")
	flags.String("metadata-path", cfg.MetadataPath, "Path to the bbolt catalog database")
	flags.String("admin-key-env", cfg.AdminKeyEnvVar, "Environment variable holding the admin secret")
	flags.Duration("lock-timeout", cfg.LockTimeout, "Max time a request waits for a table lock")
	flags.Duration("idempotency-ttl", cfg.IdempotencyTTL, "How long idempotency keys are remembered")
	flags.Duration("workspace-default-ttl", cfg.WorkspaceDefaultTTL, "Default workspace lifetime")
	flags.Duration("workspace-max-ttl", cfg.WorkspaceMaxTTL, "Max workspace lifetime a caller can request")
	flags.Int("snapshot-retention-manual-days", cfg.SnapshotRetentionManualDays, "System-default manual snapshot retention")
	flags.Int("snapshot-retention-auto-days", cfg.SnapshotRetentionAutoDays, "System-default automatic snapshot retention")
	flags.String("http-addr", cfg.HTTPAddr, "HTTP REST listen address, empty to disable")
	flags.String("s3-addr", cfg.S3Addr, "S3-compatible listen address, empty to disable")
	flags.String("pgwire-addr", cfg.PGWireAddr, "PostgreSQL wire-protocol listen address, empty to disable")
	flags.String("metrics-addr", cfg.MetricsAddr, "Prometheus scrape listen address, empty to disable")
	flags.Duration("pgwire-idle-timeout", cfg.PGWireIdleTimeout, "Idle session eviction threshold")
	flags.Int("pgwire-max-sessions", cfg.PGWireMaxSessions, "Max concurrent PG-wire sessions per workspace")
	flags.Duration("presigned-url-ttl", cfg.PresignedURLTTL, "Default S3 pre-signed URL lifetime")
	flags.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.Bool("log-json", cfg.LogJSONOutput, "Emit structured JSON logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storage core's HTTP, S3, PG-wire and metrics listeners",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags()
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSONOutput,
		})

		p, err := platform.New(cfg)
		if err != nil {
			return fmt.Errorf("build platform: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("start platform: %w", err)
		}

		log.WithComponent("storagecored").Info().
			Str("http", cfg.HTTPAddr).Str("s3", cfg.S3Addr).Str("pgwire", cfg.PGWireAddr).
			Msg("storage core started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.WithComponent("storagecored").Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := p.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.WithComponent("storagecored").Info().Msg("shutdown complete")
		return nil
	},
}

// migrateCmd is a placeholder for future bbolt schema migrations,
// mirroring cmd/warren-migrate/main.go's separate-binary-for-migrations
// split, folded here as a subcommand since the storage core's catalog
// schema is small enough not to warrant its own binary yet.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending metadata store migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("no migrations pending")
		return nil
	},
}

func configFromFlags() (config.Config, error) {
	cfg := config.Default()
	flags := serveCmd.Flags()

	cfg.DataDir, _ = flags.GetString("data-dir")
	cfg.MetadataPath, _ = flags.GetString("metadata-path")
	cfg.AdminKeyEnvVar, _ = flags.GetString("admin-key-env")
	cfg.LockTimeout, _ = flags.GetDuration("lock-timeout")
	cfg.IdempotencyTTL, _ = flags.GetDuration("idempotency-ttl")
	cfg.WorkspaceDefaultTTL, _ = flags.GetDuration("workspace-default-ttl")
	cfg.WorkspaceMaxTTL, _ = flags.GetDuration("workspace-max-ttl")
	cfg.SnapshotRetentionManualDays, _ = flags.GetInt("snapshot-retention-manual-days")
	cfg.SnapshotRetentionAutoDays, _ = flags.GetInt("snapshot-retention-auto-days")
	cfg.HTTPAddr, _ = flags.GetString("http-addr")
	cfg.S3Addr, _ = flags.GetString("s3-addr")
	cfg.PGWireAddr, _ = flags.GetString("pgwire-addr")
	cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	cfg.PGWireIdleTimeout, _ = flags.GetDuration("pgwire-idle-timeout")
	cfg.PGWireMaxSessions, _ = flags.GetInt("pgwire-max-sessions")
	cfg.PresignedURLTTL, _ = flags.GetDuration("presigned-url-ttl")
	cfg.LogLevel, _ = flags.GetString("log-level")
	cfg.LogJSONOutput, _ = flags.GetBool("log-json")

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
