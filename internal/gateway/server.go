package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/cmdgate-dev/cmdgate/internal/core"
	"github.com/cmdgate-dev/cmdgate/internal/journal"
)

const (
	// maxLineBytes bounds one request frame.
	maxLineBytes = 1 << 20

	defaultSweepInterval = 30 * time.Second
)

// Options wires a Server to the pipeline.
type Options struct {
	// Gate is the command pipeline. Required.
	Gate *core.Gate
	// Assistant serves ask calls; nil disables them with a structured error.
	Assistant *core.Assistant
	// Recorder receives expired-ticket audit entries from the sweep loop.
	Recorder core.Recorder
	// Journal backs audit queries; nil disables them with a structured error.
	Journal *journal.Journal
	// NewHistory builds the history for a fresh session.
	NewHistory func() *core.History
	// Pool shares an execution pool between listeners; nil builds an owned
	// pool from Workers and QueueDepth.
	Pool       *Pool
	Workers    int
	QueueDepth int
	// SweepInterval paces ticket expiry and idle-session sweeps.
	SweepInterval time.Duration
	// IdleSession drops sessions untouched for this long; zero keeps them.
	IdleSession time.Duration
	// EngineName is reported by status, e.g. "openai/gpt-4o-mini".
	EngineName string
	Version    string
}

// connGuard vets a new connection before any request is read. The handshake
// line, if any, is consumed from the same scanner the request loop uses.
type connGuard func(conn net.Conn, scanner *bufio.Scanner) error

// Server accepts line-delimited JSON-RPC connections and drives the gate.
type Server struct {
	addr       string
	socketPath string
	listener   net.Listener
	logger     *log.Logger
	guard      connGuard

	gate      *core.Gate
	assistant *core.Assistant
	recorder  core.Recorder
	journal   *journal.Journal

	registry *registry
	sessions *sessionStore
	pool     *Pool
	ownPool  bool

	sweepInterval time.Duration
	idleSession   time.Duration
	engineName    string
	version       string

	started  time.Time
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer listens on a Unix socket with 0600 permissions. A stale socket
// file from a previous run is removed first.
func NewServer(socketPath string, opts Options, logger *log.Logger) (*Server, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}

	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv, err := newServer(ln, socketPath, opts, logger, nil)
	if err != nil {
		_ = ln.Close()
		_ = os.Remove(socketPath)
		return nil, err
	}
	srv.socketPath = socketPath
	return srv, nil
}

// newServer builds a Server over an already-bound listener and seals the
// method registry.
func newServer(ln net.Listener, addr string, opts Options, logger *log.Logger, guard connGuard) (*Server, error) {
	if opts.Gate == nil {
		return nil, fmt.Errorf("gateway: gate is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	pool := opts.Pool
	ownPool := false
	if pool == nil {
		pool = NewPool(opts.Workers, opts.QueueDepth, logger)
		ownPool = true
	}

	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		addr:          addr,
		listener:      ln,
		logger:        logger,
		guard:         guard,
		gate:          opts.Gate,
		assistant:     opts.Assistant,
		recorder:      opts.Recorder,
		journal:       opts.Journal,
		registry:      newRegistry(),
		sessions:      newSessionStore(opts.NewHistory),
		pool:          pool,
		ownPool:       ownPool,
		sweepInterval: sweep,
		idleSession:   opts.IdleSession,
		engineName:    opts.EngineName,
		version:       version,
		conns:         make(map[net.Conn]struct{}),
		stopCh:        make(chan struct{}),
	}

	s.registry.register("ping", s.handlePing)
	s.registry.register("status", s.handleStatus)
	s.registry.register("exec", s.handleExec)
	s.registry.register("ask", s.handleAsk)
	s.registry.register("approve", s.handleApprove)
	s.registry.register("pending", s.handlePending)
	s.registry.register("history", s.handleHistory)
	s.registry.register("clear", s.handleClear)
	s.registry.register("audit", s.handleAudit)

	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start runs the accept loop until ctx is canceled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()
	s.pool.Start()

	s.wg.Add(1)
	go s.sweepLoop(ctx)

	// Unblock Accept when the context ends.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		}
		_ = s.listener.Close()
	}()

	s.logger.Info("gateway listening", "addr", s.addr, "methods", len(s.registry.methods()))

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stopCh:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Stop closes the listener and all live connections, waits for handlers to
// drain, and removes the socket file.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		_ = s.listener.Close()

		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		if s.ownPool {
			s.pool.Stop()
		}

		if s.socketPath != "" {
			if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
				err = rmErr
			}
		}
	})
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	if s.guard != nil {
		if err := s.guard(conn, scanner); err != nil {
			s.logger.Warn("connection rejected", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req RPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, RPCResponse{
				Error: &RPCError{Code: ErrCodeParse, Message: fmt.Sprintf("parse error: %v", err)},
			})
			continue
		}
		if req.Method == "" {
			s.writeResponse(conn, RPCResponse{
				ID:    req.ID,
				Error: &RPCError{Code: ErrCodeInvalidRequest, Message: "method is required"},
			})
			continue
		}

		result, rpcErr := s.registry.dispatch(ctx, req.Method, req.Params)
		s.writeResponse(conn, RPCResponse{ID: req.ID, Result: result, Error: rpcErr})
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("connection read ended", "err", err)
	}
}

func (s *Server) writeResponse(conn net.Conn, resp RPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding response", "err", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Debug("writing response", "err", err)
	}
}

// runGated executes fn on the worker pool and waits for completion, so the
// response can carry fn's result while execution concurrency stays bounded.
func (s *Server) runGated(fn func()) *RPCError {
	done := make(chan struct{})
	ok := s.pool.Submit(func() {
		defer close(done)
		fn()
	})
	if !ok {
		return &RPCError{Code: ErrCodeBusy, Message: "server busy, try again"}
	}
	<-done
	return nil
}

func (s *Server) handlePing(_ context.Context, _ json.RawMessage) (any, *RPCError) {
	return PingResult{Pong: true, Version: s.version}, nil
}

func (s *Server) handleStatus(_ context.Context, _ json.RawMessage) (any, *RPCError) {
	return StatusResult{
		Version:        s.version,
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		PendingCount:   s.gate.Ledger().Len(),
		ActiveSessions: s.sessions.len(),
		Engine:         s.engineName,
	}, nil
}

func (s *Server) handleExec(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p ExecParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	sess := s.sessions.get(p.SessionID)
	var outcome *core.Outcome
	if rpcErr := s.runGated(func() {
		outcome = s.gate.Submit(ctx, sess.ID, p.Command)
	}); rpcErr != nil {
		return nil, rpcErr
	}
	return ExecResult{SessionID: sess.ID, Outcome: outcome}, nil
}

func (s *Server) handleAsk(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p AskParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if s.assistant == nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: "completion engine not configured"}
	}

	sess := s.sessions.get(p.SessionID)
	var (
		ask    *core.AskResult
		askErr error
	)
	if rpcErr := s.runGated(func() {
		ask, askErr = s.assistant.Ask(ctx, sess.ID, sess.History, p.Question)
	}); rpcErr != nil {
		return nil, rpcErr
	}
	if askErr != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: askErr.Error()}
	}
	return AskReply{SessionID: sess.ID, Ask: ask}, nil
}

func (s *Server) handleApprove(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p ApproveParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	sess := s.sessions.get(p.SessionID)
	var outcome *core.Outcome
	if rpcErr := s.runGated(func() {
		outcome = s.gate.Approve(ctx, sess.ID, p.TicketID)
	}); rpcErr != nil {
		return nil, rpcErr
	}
	return ExecResult{SessionID: sess.ID, Outcome: outcome}, nil
}

func (s *Server) handlePending(_ context.Context, _ json.RawMessage) (any, *RPCError) {
	tickets := s.gate.Ledger().Pending()
	if tickets == nil {
		tickets = []*core.Ticket{}
	}
	return PendingResult{Tickets: tickets}, nil
}

func (s *Server) handleHistory(_ context.Context, params json.RawMessage) (any, *RPCError) {
	var p SessionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	sess := s.sessions.get(p.SessionID)
	return HistoryResult{SessionID: sess.ID, Entries: sess.History.Snapshot()}, nil
}

func (s *Server) handleClear(_ context.Context, params json.RawMessage) (any, *RPCError) {
	var p SessionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	sess := s.sessions.get(p.SessionID)
	cleared := sess.History.Len()
	sess.History.Clear()
	return ClearResult{SessionID: sess.ID, Cleared: cleared}, nil
}

func (s *Server) handleAudit(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p AuditParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if s.journal == nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: "journal disabled"}
	}

	entries, err := s.journal.Recent(ctx, journal.Query{
		Session: p.SessionID,
		Verdict: p.Verdict,
		Search:  p.Search,
		Limit:   p.Limit,
	})
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: err.Error()}
	}
	counts, err := s.journal.Counts(ctx)
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: err.Error()}
	}
	if entries == nil {
		entries = []*journal.Entry{}
	}
	return AuditResult{Entries: entries, Counts: counts}, nil
}

// sweepLoop periodically expires tickets and drops idle sessions.
func (s *Server) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Server) sweep(now time.Time) {
	for _, ticket := range s.gate.Ledger().SweepExpired(now) {
		s.logger.Info("ticket expired", "ticket", ticket.ID, "command", ticket.Command)
		if s.recorder == nil {
			continue
		}
		rec := core.AuditRecord{
			Session: ticket.Session,
			Command: ticket.Command,
			Verdict: core.VerdictExpired,
		}
		if ticket.Risk != nil {
			rec.RiskLevel = ticket.Risk.Level
			rec.MatchedTerms = ticket.Risk.MatchedTerms
		}
		if err := s.recorder.Record(context.Background(), rec); err != nil {
			s.logger.Warn("journal write failed", "verdict", core.VerdictExpired, "err", err)
		}
	}

	if s.idleSession > 0 {
		for _, id := range s.sessions.sweepIdle(now.Add(-s.idleSession)) {
			s.logger.Info("idle session dropped", "session", id)
		}
	}
}
