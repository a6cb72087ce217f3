package platform

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/keboola/storage-core/pkg/auth"
	"github.com/keboola/storage-core/pkg/branch"
	"github.com/keboola/storage-core/pkg/config"
	"github.com/keboola/storage-core/pkg/httpapi"
	"github.com/keboola/storage-core/pkg/idempotency"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/metrics"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/pgwire"
	"github.com/keboola/storage-core/pkg/s3api"
	"github.com/keboola/storage-core/pkg/share"
	"github.com/keboola/storage-core/pkg/snapshot"
	"github.com/keboola/storage-core/pkg/tablelock"
	"github.com/keboola/storage-core/pkg/workspace"
)

// Platform owns every long-lived collaborator the storage core needs
// and the three wire-surface listeners built on top of them. It is
// the single struct cmd/storagecored constructs and shuts down.
type Platform struct {
	cfg config.Config

	store *metadata.BoltStore
	idem  *idempotency.Store
	locks *tablelock.Manager
	paths *pathresolver.Resolver

	authn    *auth.Authenticator
	signer   *auth.Signer
	branches *branch.Engine
	shares   *share.Engine
	spaces   *workspace.Engine
	snaps    *snapshot.Engine

	httpServer    *http.Server
	s3Server      *http.Server
	metricsServer *http.Server
	pgwireServer  *pgwire.Server

	sweepStop chan struct{}
}

// New opens the metadata and idempotency stores and wires every domain
// engine together: validate config, open storage, construct
// collaborators, return the assembled value without starting anything
// yet.
func New(cfg config.Config) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("platform: create data dir: %w", err)
	}

	store, err := metadata.NewBoltStore(cfg.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("platform: open metadata store: %w", err)
	}

	idem, err := idempotency.Open(cfg.DataDir+"/idempotency.db", cfg.IdempotencyTTL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("platform: open idempotency store: %w", err)
	}

	paths := pathresolver.New(cfg.DataDir)
	locks := tablelock.New()
	authn := auth.New(store, os.Getenv(cfg.AdminKeyEnvVar))
	signer := auth.NewSigner(signerSecret(cfg))

	branches := branch.New(store, paths, locks)

	p := &Platform{
		cfg:       cfg,
		store:     store,
		idem:      idem,
		locks:     locks,
		paths:     paths,
		authn:     authn,
		signer:    signer,
		branches:  branches,
		shares:    share.New(store, paths),
		spaces:    workspace.New(store, paths, branches, cfg.WorkspaceDefaultTTL, cfg.WorkspaceMaxTTL),
		snaps:     snapshot.New(store, paths, locks),
		sweepStop: make(chan struct{}),
	}
	return p, nil
}

// signerSecret derives the pre-signed URL HMAC secret from the same
// admin secret operators already manage, so there is no second secret
// to provision for a deployment that only needs the S3 surface.
func signerSecret(cfg config.Config) string {
	if v := os.Getenv(cfg.AdminKeyEnvVar); v != "" {
		return v
	}
	return "storagecore-dev-presign-secret"
}

// Start builds and launches every enabled wire-surface listener. Each
// surface binds independently; an empty address in cfg disables it,
// per pkg/config.Config's doc comments.
func (p *Platform) Start(ctx context.Context) error {
	if p.cfg.HTTPAddr != "" {
		p.httpServer = &http.Server{
			Addr:         p.cfg.HTTPAddr,
			Handler:      p.newHTTPHandler(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  90 * time.Second,
		}
		go p.serve(p.httpServer, "http")
	}

	if p.cfg.S3Addr != "" {
		p.s3Server = &http.Server{
			Addr: p.cfg.S3Addr,
			Handler: s3api.New(s3api.Deps{
				Auth:   p.authn,
				Signer: p.signer,
				Paths:  p.paths,
			}),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  90 * time.Second,
		}
		go p.serve(p.s3Server, "s3")
	}

	if p.cfg.MetricsAddr != "" && p.cfg.MetricsAddr != p.cfg.HTTPAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		p.metricsServer = &http.Server{Addr: p.cfg.MetricsAddr, Handler: mux}
		go p.serve(p.metricsServer, "metrics")
	}

	if p.cfg.PGWireAddr != "" {
		p.pgwireServer = pgwire.New(pgwire.Config{
			ListenAddr:              p.cfg.PGWireAddr,
			IdleTimeout:             p.cfg.PGWireIdleTimeout,
			CleanupInterval:         5 * time.Minute,
			StatementTimeout:        5 * time.Minute,
			DrainTimeout:            30 * time.Second,
			MaxSessionsPerWorkspace: p.cfg.PGWireMaxSessions,
		}, p.store, p.paths, p.branches)
		go func() {
			if err := p.pgwireServer.ListenAndServe(ctx); err != nil {
				log.WithComponent("platform").Error().Err(err).Msg("pgwire listener exited")
			}
		}()
	}

	go p.sweepLoop()

	return nil
}

func (p *Platform) newHTTPHandler() http.Handler {
	return httpapi.New(httpapi.Deps{
		Store:       p.store,
		Paths:       p.paths,
		Locks:       p.locks,
		Auth:        p.authn,
		Signer:      p.signer,
		Branches:    p.branches,
		Shares:      p.shares,
		Workspaces:  p.spaces,
		Snapshots:   p.snaps,
		Idempotency: p.idem,
		LockTimeout: p.cfg.LockTimeout,
	})
}

func (p *Platform) serve(srv *http.Server, name string) {
	log.WithComponent("platform").Info().Str("surface", name).Str("addr", srv.Addr).Msg("listener starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithComponent("platform").Error().Err(err).Str("surface", name).Msg("listener exited")
	}
}

// sweepLoop periodically evicts expired idempotency cache entries, a
// background janitor running alongside the wire surfaces. Expired
// workspaces are not removed here.
func (p *Platform) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.sweepStop:
			return
		case <-ticker.C:
			if removed, err := p.idem.Sweep(); err != nil {
				log.WithComponent("platform").Warn().Err(err).Msg("idempotency sweep failed")
			} else if removed > 0 {
				log.WithComponent("platform").Debug().Int("removed", removed).Msg("idempotency sweep")
			}
		}
	}
}

// Shutdown gracefully stops every listener and closes every store:
// surfaces first, storage last.
func (p *Platform) Shutdown(ctx context.Context) error {
	close(p.sweepStop)

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.httpServer != nil {
		record(p.httpServer.Shutdown(ctx))
	}
	if p.s3Server != nil {
		record(p.s3Server.Shutdown(ctx))
	}
	if p.metricsServer != nil {
		record(p.metricsServer.Shutdown(ctx))
	}
	if p.pgwireServer != nil {
		record(p.pgwireServer.Shutdown(ctx))
	}

	record(p.idem.Close())
	record(p.store.Close())

	return firstErr
}
