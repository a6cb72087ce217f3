// Package pgwire implements the storage core's PostgreSQL wire-protocol
// session engine: one goroutine per connection speaking
// protocol v3 against a workspace's DuckDB file, with every project
// table (and branch shadow, if the workspace is branched) attached as
// a read-only view so clients can query them by "bucket.table".
package pgwire

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/keboola/storage-core/pkg/apierr"
	"github.com/keboola/storage-core/pkg/auth"
	"github.com/keboola/storage-core/pkg/branch"
	"github.com/keboola/storage-core/pkg/engine"
	"github.com/keboola/storage-core/pkg/log"
	"github.com/keboola/storage-core/pkg/metadata"
	"github.com/keboola/storage-core/pkg/metrics"
	"github.com/keboola/storage-core/pkg/pathresolver"
	"github.com/keboola/storage-core/pkg/types"
	"github.com/google/uuid"
)

const (
	protocolVersion3 uint32 = 196608
	sslRequestCode   uint32 = 80877103
	cancelRequestCode uint32 = 80877102
)

// Config tunes the PG-wire listener.
type Config struct {
	ListenAddr              string
	IdleTimeout             time.Duration
	CleanupInterval         time.Duration
	StatementTimeout        time.Duration
	DrainTimeout            time.Duration
	MaxSessionsPerWorkspace int
}

// Server owns the PG-wire listener and every live session.
type Server struct {
	cfg      Config
	store    metadata.Store
	paths    *pathresolver.Resolver
	branches *branch.Engine

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	draining bool
	conns    map[string]net.Conn
}

// New returns a Server wired to the shared metadata store, path
// resolver, and branch engine.
func New(cfg Config, store metadata.Store, paths *pathresolver.Resolver, branches *branch.Engine) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		paths:    paths,
		branches: branches,
		conns:    make(map[string]net.Conn),
	}
}

// ListenAndServe binds the listener and accepts connections until ctx
// is cancelled or Shutdown is called. It also runs the idle-session
// sweep on cfg.CleanupInterval.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("pgwire: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = lis
	log.WithComponent("pgwire").Info().Str("addr", s.cfg.ListenAddr).Msg("pgwire listener started")

	go s.idleSweepLoop(ctx)

	for {
		conn, err := lis.Accept()
		if err != nil {
			s.mu.Lock()
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Shutdown drains gracefully: stop accepting new
// connections, let live sessions finish up to cfg.DrainTimeout, then
// force-close any stragglers as "server_drain".
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		s.forceCloseAll()
		<-done
		return nil
	case <-ctx.Done():
		s.forceCloseAll()
		<-done
		return ctx.Err()
	}
}

func (s *Server) forceCloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		c.Close()
		metrics.PGWireSessionsTotal.WithLabelValues("server_drain").Inc()
		delete(s.conns, id)
	}
}

func (s *Server) trackConn(sessionID string, conn net.Conn) {
	s.mu.Lock()
	s.conns[sessionID] = conn
	s.mu.Unlock()
}

func (s *Server) untrackConn(sessionID string) {
	s.mu.Lock()
	delete(s.conns, sessionID)
	s.mu.Unlock()
}

func (s *Server) idleSweepLoop(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timedOut, err := s.store.CleanupIdleSessions(s.cfg.IdleTimeout)
			if err != nil {
				log.WithComponent("pgwire").Warn().Err(err).Msg("idle session sweep failed")
				continue
			}
			for _, sess := range timedOut {
				metrics.PGWireSessionsTotal.WithLabelValues("timeout").Inc()
				s.mu.Lock()
				conn, ok := s.conns[sess.SessionID]
				s.mu.Unlock()
				if ok {
					conn.Close()
				}
			}
		}
	}
}

// session is the live state of one connection, from authentication
// through the query loop.
type session struct {
	id         string
	workspace  *types.Workspace
	eng        *engine.Engine
	backend    *pgproto3.Backend
	conn       net.Conn
	statements map[string]string
	portals    map[string]portal
}

type portal struct {
	statement string
	params    [][]byte
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	backend := pgproto3.NewBackend(conn, conn)
	startup, err := s.receiveStartup(backend, conn)
	if err != nil {
		log.WithComponent("pgwire").Debug().Err(err).Msg("startup failed")
		return
	}
	if startup == nil {
		return // cancel request, already logged
	}

	username := startup.Parameters["user"]
	sess, errMsg := s.authenticate(ctx, backend, username)
	if errMsg != nil {
		backend.Send(errMsg)
		return
	}
	if sess == nil {
		return
	}
	sess.conn = conn
	sess.backend = backend

	s.trackConn(sess.id, conn)
	defer s.untrackConn(sess.id)
	defer func() {
		if sess.eng != nil {
			sess.eng.Close()
		}
		s.store.DeletePGWireSession(sess.id)
		metrics.ActiveWorkspaceSessions.WithLabelValues(sess.workspace.ID).Dec()
	}()

	if err := backend.Send(&pgproto3.AuthenticationOk{}); err != nil {
		return
	}
	for _, ps := range [][2]string{{"server_version", "14.0 (storagecore)"}, {"client_encoding", "UTF8"}} {
		backend.Send(&pgproto3.ParameterStatus{Name: ps[0], Value: ps[1]})
	}
	backend.Send(&pgproto3.BackendKeyData{ProcessID: 0, SecretKey: 0})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})

	s.queryLoop(ctx, sess)
	metrics.PGWireSessionsTotal.WithLabelValues("client_disconnect").Inc()
}

// receiveStartup handles the SSL negotiation and cancel-request paths
// before returning the real startup message.
func (s *Server) receiveStartup(backend *pgproto3.Backend, conn net.Conn) (*pgproto3.StartupMessage, error) {
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *pgproto3.SSLRequest:
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return nil, err
			}
			continue
		case *pgproto3.CancelRequest:
			log.WithComponent("pgwire").Info().
				Uint32("process_id", m.ProcessID).Msg("cancel request received, not acted on")
			return nil, nil
		case *pgproto3.StartupMessage:
			if m.ProtocolVersion != protocolVersion3 {
				return nil, fmt.Errorf("unsupported protocol version %d", m.ProtocolVersion)
			}
			return m, nil
		default:
			return nil, fmt.Errorf("unexpected startup message %T", msg)
		}
	}
}

// authenticate runs the auth + attach sequence for a new connection. It
// returns a ready session, or a BackendMessage to send back (and no
// session) on a classified failure.
func (s *Server) authenticate(ctx context.Context, backend *pgproto3.Backend, username string) (*session, pgproto3.BackendMessage) {
	if err := backend.Send(&pgproto3.AuthenticationCleartextPassword{}); err != nil {
		return nil, nil
	}
	backend.SetAuthType(pgproto3.AuthTypeCleartextPassword)
	msg, err := backend.Receive()
	if err != nil {
		return nil, nil
	}
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		return nil, errResponse("08P01", "expected password message")
	}

	cred, err := s.store.GetWorkspaceCredentialByUsername(username)
	if err != nil {
		return nil, errResponse("28P01", "password authentication failed")
	}
	if !auth.VerifyWorkspacePassword(cred.PasswordHash, pw.Password) {
		return nil, errResponse("28P01", "password authentication failed")
	}

	ws, err := s.store.GetWorkspace(cred.WorkspaceID)
	if err != nil {
		return nil, errResponse("08004", "workspace not found")
	}
	if ws.EffectiveStatus(time.Now()) != types.WorkspaceActive {
		return nil, errResponse("08004", "workspace is not active")
	}

	active, err := s.store.CountActivePGWireSessions(ws.ID)
	if err != nil {
		return nil, errResponse("53300", "session accounting unavailable")
	}
	if s.cfg.MaxSessionsPerWorkspace > 0 && active >= s.cfg.MaxSessionsPerWorkspace {
		return nil, errResponse("53300", "too many connections for this workspace")
	}

	eng, err := engine.Open(ws.DBPath)
	if err != nil {
		return nil, errResponse("58000", "failed to open workspace")
	}

	id := "pgs_" + uuid.NewString()[:8]
	sess := &session{
		id:         id,
		workspace:  ws,
		eng:        eng,
		statements: make(map[string]string),
		portals:    make(map[string]portal),
	}

	s.attachProjectTables(ctx, sess)

	now := time.Now()
	if err := s.store.CreatePGWireSession(&types.PGWireSession{
		SessionID:      id,
		WorkspaceID:    ws.ID,
		ConnectedAt:    now,
		LastActivityAt: now,
		Status:         types.SessionActive,
	}); err != nil {
		eng.Close()
		return nil, errResponse("58000", "failed to register session")
	}

	metrics.ActiveWorkspaceSessions.WithLabelValues(ws.ID).Inc()
	log.WithSession(id).Info().Str("workspace_id", ws.ID).Str("username", username).Msg("pgwire session authenticated")
	return sess, nil
}

// attachProjectTables attaches every project table (the branch's copy
// if the workspace is branched and the table was copied, the main
// table otherwise) read-only, one view per bucket.table. A single
// table's attach failure is logged and skipped, not fatal to the
// session.
func (s *Server) attachProjectTables(ctx context.Context, sess *session) {
	ws := sess.workspace
	logger := log.WithSession(sess.id)

	buckets, err := s.store.ListBuckets(ws.ProjectID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list buckets during attach phase")
		return
	}
	for _, b := range buckets {
		schemaCreated := false
		tables, err := s.store.ListTables(ws.ProjectID, b.Name)
		if err != nil {
			logger.Warn().Err(err).Str("bucket", b.Name).Msg("failed to list tables during attach phase")
			continue
		}
		for _, t := range tables {
			path, err := s.resolveAttachPath(ws, b.Name, t.TableName)
			if err != nil {
				logger.Warn().Err(err).Str("bucket", b.Name).Str("table", t.TableName).Msg("failed to resolve table path during attach")
				continue
			}
			if !schemaCreated {
				if _, err := sess.eng.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", b.Name)); err != nil {
					logger.Warn().Err(err).Str("bucket", b.Name).Msg("failed to create schema during attach")
					break
				}
				schemaCreated = true
			}
			alias := "t_" + b.Name + "_" + t.TableName
			if err := sess.eng.Attach(ctx, path, alias); err != nil {
				logger.Warn().Err(err).Str("bucket", b.Name).Str("table", t.TableName).Msg("failed to attach table")
				continue
			}
			// The attached file holds exactly one table, always named
			// "data" (pkg/engine's mainTable convention).
			stmt := fmt.Sprintf("CREATE VIEW %q.%q AS SELECT * FROM %q.data", b.Name, t.TableName, alias)
			if _, err := sess.eng.Exec(ctx, stmt); err != nil {
				logger.Warn().Err(err).Str("bucket", b.Name).Str("table", t.TableName).Msg("failed to create view during attach")
				sess.eng.Detach(ctx, alias)
			}
		}
	}
}

func (s *Server) resolveAttachPath(ws *types.Workspace, bucket, table string) (string, error) {
	if ws.BranchID == "" {
		return s.paths.MainTablePath(ws.ProjectID, bucket, table)
	}
	return s.branches.ResolveReadPath(ws.ProjectID, ws.BranchID, bucket, table)
}

// queryLoop handles the simple ('Q') and extended
// ('P'/'B'/'D'/'E'/'S'/'C'/'H') protocol support, terminating on 'X'
// or a connection error. Sessions are single-threaded: one message is
// fully handled before the next is read.
func (s *Server) queryLoop(ctx context.Context, sess *session) {
	for {
		msg, err := sess.backend.Receive()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *pgproto3.Query:
			s.execSimpleQuery(ctx, sess, m.String)
			sess.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		case *pgproto3.Parse:
			name := m.Name
			sess.statements[name] = m.Query
			sess.backend.Send(&pgproto3.ParseComplete{})
		case *pgproto3.Bind:
			sess.portals[m.DestinationPortal] = portal{statement: m.PreparedStatement, params: m.Parameters}
			sess.backend.Send(&pgproto3.BindComplete{})
		case *pgproto3.Describe:
			sess.backend.Send(&pgproto3.NoData{})
		case *pgproto3.Execute:
			p, ok := sess.portals[m.Portal]
			if !ok {
				sess.backend.Send(errResponse("34000", "unknown portal"))
				break
			}
			query := sess.statements[p.statement]
			s.execExtendedQuery(ctx, sess, query, p.params)
		case *pgproto3.Sync:
			sess.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		case *pgproto3.Close:
			if m.ObjectType == 'S' {
				delete(sess.statements, m.Name)
			} else {
				delete(sess.portals, m.Name)
			}
			sess.backend.Send(&pgproto3.CloseComplete{})
		case *pgproto3.Flush:
			// Nothing buffered beyond what Send already wrote.
		case *pgproto3.Terminate:
			return
		default:
			sess.backend.Send(errResponse("0A000", fmt.Sprintf("unsupported message %T", msg)))
			sess.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		}
	}
}

func (s *Server) execSimpleQuery(ctx context.Context, sess *session, query string) {
	s.runQuery(ctx, sess, query)
}

func (s *Server) execExtendedQuery(ctx context.Context, sess *session, query string, rawParams [][]byte) {
	args := make([]interface{}, len(rawParams))
	for i, p := range rawParams {
		if p == nil {
			args[i] = nil
		} else {
			args[i] = string(p)
		}
	}
	s.runQuery(ctx, sess, query, args...)
}

// runQuery executes one statement under the configured per-statement
// timeout, streams back a RowDescription/DataRow/CommandComplete (or
// ErrorResponse), and updates session bookkeeping.
func (s *Server) runQuery(ctx context.Context, sess *session, query string, args ...interface{}) {
	if err := sess.eng.SetStatementTimeout(ctx, s.cfg.StatementTimeout); err != nil {
		sess.backend.Send(errResponse("58000", "failed to set statement timeout"))
		return
	}

	rows, err := sess.eng.Query(ctx, query, args...)
	if err != nil {
		sess.backend.Send(errResponse("42601", string(apierr.KindOf(err))+": "+err.Error()))
		s.bumpSession(sess)
		return
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		sess.backend.Send(errResponse("58000", "failed to read result columns"))
		return
	}
	fields := make([]pgproto3.FieldDescription, len(cols))
	for i, name := range cols {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(name),
			DataTypeOID:  25, // text
			DataTypeSize: -1,
			TypeModifier: -1,
			Format:       0,
		}
	}
	sess.backend.Send(&pgproto3.RowDescription{Fields: fields})

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	count := int64(0)
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			sess.backend.Send(errResponse("58000", "failed to scan row"))
			return
		}
		row := make([][]byte, len(cols))
		for i, v := range values {
			if v == nil {
				row[i] = nil
				continue
			}
			row[i] = []byte(fmt.Sprintf("%v", v))
		}
		sess.backend.Send(&pgproto3.DataRow{Values: row})
		count++
	}
	if err := rows.Err(); err != nil {
		sess.backend.Send(errResponse("58000", "row iteration failed"))
		return
	}

	metrics.PGWireQueriesTotal.Inc()
	sess.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("SELECT %d", count))})
	s.bumpSession(sess)
}

func (s *Server) bumpSession(sess *session) {
	rec, err := s.store.GetPGWireSession(sess.id)
	if err != nil {
		return
	}
	rec.QueryCount++
	rec.LastActivityAt = time.Now()
	s.store.UpdatePGWireSession(rec)
}

func errResponse(code, msg string) *pgproto3.ErrorResponse {
	return &pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     code,
		Message:  msg,
	}
}
