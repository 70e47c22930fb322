// Package ctlplane exposes the sync engine over a unix-socket RPC
// surface for the CLI. The daemon is the only process that talks to
// the kernel; everything else goes through here.
package ctlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"sort"

	"github.com/rampart-fw/rampart/internal/engine"
	"github.com/rampart-fw/rampart/internal/logging"
	"github.com/rampart-fw/rampart/internal/metrics"
	"github.com/rampart-fw/rampart/internal/policy"
	"github.com/rampart-fw/rampart/internal/reload"
)

// Server is the privileged control plane RPC server.
type Server struct {
	engine   *engine.Engine
	reloader *reload.Controller // nil when hot-reload is disabled
	logger   *logging.Logger
	met      *metrics.Registry

	socketPath     string
	maxPolicyBytes int
	limiter        *uidLimiter

	listener net.Listener
}

// ServerConfig carries the server's knobs.
type ServerConfig struct {
	SocketPath        string
	MaxPolicyBytes    int
	RequestsPerSecond float64
	Burst             int
}

// NewServer creates a control plane server around an engine.
func NewServer(cfg ServerConfig, eng *engine.Engine, reloader *reload.Controller, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		engine:         eng,
		reloader:       reloader,
		logger:         logger.WithComponent("ctlplane"),
		met:            metrics.Get(),
		socketPath:     cfg.SocketPath,
		maxPolicyBytes: cfg.MaxPolicyBytes,
		limiter:        newUIDLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}
}

// Start listens on the unix socket and serves RPC in the background.
func (s *Server) Start() error {
	// Remove a stale socket from an unclean shutdown.
	os.Remove(s.socketPath)

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}

	// Root-only: the socket can rewrite the host's filter state.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return s.StartWithListener(listener)
}

// StartWithListener serves RPC on an existing listener. Used directly
// by tests.
func (s *Server) StartWithListener(listener net.Listener) error {
	s.listener = listener

	s.logger.Info("control plane listening", "addr", listener.Addr().String())

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error("accept error", "error", err)
				return
			}
			uid, ok := peerUID(conn)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("RPC connection handler panicked", "panic", r)
					}
				}()
				// One rpc.Server per connection binds the service name
				// to a session that knows the peer's UID, so the
				// request budget is charged per call. Charging at
				// accept would let one held connection issue unlimited
				// requests.
				srv := rpc.NewServer()
				sess := &session{s: s, uid: uid, hasUID: ok}
				if err := srv.RegisterName(ServiceName, sess); err != nil {
					s.logger.Error("failed to register RPC service", "error", err)
					conn.Close()
					return
				}
				srv.ServeConn(conn)
			}()
		}
	}()

	return nil
}

// session is the per-connection RPC receiver. Every method checks the
// peer's request budget before forwarding to the server, and a refusal
// is a normal reply carrying ErrRateLimited, never a dropped
// connection the client would mistake for a network fault.
type session struct {
	s      *Server
	uid    uint32
	hasUID bool
}

// allow charges one request against the peer's budget. Peers without
// resolvable credentials are not limited.
func (c *session) allow() bool {
	if !c.hasUID {
		return true
	}
	if c.s.limiter.allow(c.uid) {
		return true
	}
	c.s.met.RateLimited.Inc()
	c.s.logger.Warn("rate limited control plane request", "uid", c.uid)
	return false
}

func (c *session) Apply(args *ApplyArgs, reply *ApplyReply) error {
	if !c.allow() {
		reply.Error = ErrRateLimited.Error()
		return nil
	}
	return c.s.apply(args, reply)
}

func (c *session) Plan(args *PlanArgs, reply *PlanReply) error {
	if !c.allow() {
		reply.Error = ErrRateLimited.Error()
		return nil
	}
	return c.s.plan(args, reply)
}

func (c *session) Rollback(args *RollbackArgs, reply *RollbackReply) error {
	if !c.allow() {
		reply.Error = ErrRateLimited.Error()
		return nil
	}
	return c.s.rollback(args, reply)
}

func (c *session) LKGShow(args *LKGShowArgs, reply *LKGShowReply) error {
	if !c.allow() {
		reply.Error = ErrRateLimited.Error()
		return nil
	}
	return c.s.lkgShow(args, reply)
}

func (c *session) LKGRevert(args *LKGRevertArgs, reply *LKGRevertReply) error {
	if !c.allow() {
		reply.Error = ErrRateLimited.Error()
		return nil
	}
	return c.s.lkgRevert(args, reply)
}

func (c *session) Status(args *StatusArgs, reply *StatusReply) error {
	if !c.allow() {
		reply.Error = ErrRateLimited.Error()
		return nil
	}
	return c.s.status(args, reply)
}

// Stop closes the listener and removes the socket.
func (s *Server) Stop() error {
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return err
		}
	}
	os.Remove(s.socketPath)
	return nil
}

// checkPolicySize enforces the hard document ceiling before parsing.
func (s *Server) checkPolicySize(raw []byte) error {
	if s.maxPolicyBytes > 0 && len(raw) > s.maxPolicyBytes {
		s.met.OversizedRequests.Inc()
		return fmt.Errorf("policy document is %d bytes, limit is %d", len(raw), s.maxPolicyBytes)
	}
	return nil
}

// apply validates and applies a policy document.
func (s *Server) apply(args *ApplyArgs, reply *ApplyReply) error {
	if err := s.checkPolicySize(args.Policy); err != nil {
		reply.Error = err.Error()
		return nil
	}
	report, err := s.engine.ApplyBytes(context.Background(), args.Policy, args.Format, engine.SourceAdmin)
	reply.Report = report
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	reply.Success = true
	return nil
}

// plan computes what an apply would change without touching the kernel.
func (s *Server) plan(args *PlanArgs, reply *PlanReply) error {
	if err := s.checkPolicySize(args.Policy); err != nil {
		reply.Error = err.Error()
		return nil
	}
	doc, err := policy.ParseBytes(args.Policy, args.Format)
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	plan, _, err := s.engine.Plan(context.Background(), doc)
	if err != nil {
		reply.Error = err.Error()
		return nil
	}

	for i := range plan.ToAdd {
		reply.Add = append(reply.Add, plan.ToAdd[i].Summary())
	}
	for _, inst := range plan.ToRemove {
		reply.Remove = append(reply.Remove, fmt.Sprintf("filter key=%s weight=%d dir=%s", inst.Key[:12], inst.Weight, inst.Direction))
	}
	sort.Strings(reply.Add)
	sort.Strings(reply.Remove)
	reply.Unchanged = plan.Unchanged
	reply.Success = true
	return nil
}

// rollback removes every owned filter.
func (s *Server) rollback(args *RollbackArgs, reply *RollbackReply) error {
	report, err := s.engine.Rollback(context.Background())
	reply.Report = report
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	reply.Success = true
	return nil
}

// lkgShow returns the persisted baseline record.
func (s *Server) lkgShow(args *LKGShowArgs, reply *LKGShowReply) error {
	rec, err := s.engine.Baseline()
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	reply.Record = rec
	reply.Success = true
	return nil
}

// lkgRevert re-applies the persisted baseline.
func (s *Server) lkgRevert(args *LKGRevertArgs, reply *LKGRevertReply) error {
	report, err := s.engine.RevertLKG(context.Background())
	reply.Report = report
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	reply.Success = true
	return nil
}

// status returns a snapshot of engine and hot-reload state.
func (s *Server) status(args *StatusArgs, reply *StatusReply) error {
	reply.Status = s.engine.Status()
	if s.reloader != nil {
		rs := s.reloader.Status()
		reply.Reload = &rs
	}
	reply.Success = true
	return nil
}
