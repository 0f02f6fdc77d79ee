package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/willschipp/resmgr/pkg/logger"
)

// Envelope is one decoded inbound frame tagged with the connection it
// arrived on, the unit the control loop drains from MessageBuff.
type Envelope struct {
	ConnID uint64
	Frame  Frame
}

// connState is the per-connection bookkeeping the server keeps; it never
// touches control-loop state directly, only the ConnToSend buffer handed
// off at phase boundaries.
type connState struct {
	conn      net.Conn
	outbound  chan Frame
	limiter   *rate.Limiter
	closeOnce sync.Once
}

// Server accepts client connections over a Unix socket, decodes frames
// into MessageBuff, and drains per-connection ConnToSend buffers back out
// to the wire. It never interprets a message's meaning; that is the
// control loop's job once it drains Inbound().
type Server struct {
	socketPath string
	listener   net.Listener

	mu    sync.RWMutex
	conns map[uint64]*connState

	inbound chan Envelope

	requestsPerSecond float64
	maxConnections    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	audit *logger.AuditLogger
}

// NewServer creates a Server bound to socketPath. requestsPerSecond rate
// limits each connection independently; maxConnections bounds concurrent
// clients.
func NewServer(socketPath string, requestsPerSecond float64, maxConnections int, audit *logger.AuditLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:        socketPath,
		conns:             make(map[uint64]*connState),
		inbound:           make(chan Envelope, 256),
		requestsPerSecond: requestsPerSecond,
		maxConnections:    maxConnections,
		ctx:               ctx,
		cancel:            cancel,
		audit:             audit,
	}
}

// Inbound returns the channel the control loop drains decoded requests
// from (spec §5's MessageBuff).
func (s *Server) Inbound() <-chan Envelope {
	return s.inbound
}

// Start begins listening and accepting connections.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", s.socketPath, err)
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection, waiting for the
// accept and per-connection goroutines to exit.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, cs := range s.conns {
		cs.closeOnce.Do(func() { cs.conn.Close() })
	}
	s.mu.Unlock()

	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				continue
			}
		}

		s.mu.RLock()
		tooMany := s.maxConnections > 0 && len(s.conns) >= s.maxConnections
		s.mu.RUnlock()
		if tooMany {
			conn.Close()
			continue
		}

		connID := nextConnID()
		cs := &connState{
			conn:     conn,
			outbound: make(chan Frame, 32),
			limiter:  rate.NewLimiter(rate.Limit(s.requestsPerSecond), int(s.requestsPerSecond)+1),
		}

		s.mu.Lock()
		s.conns[connID] = cs
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(connID, cs)
	}
}

func (s *Server) serveConn(connID uint64, cs *connState) {
	defer s.wg.Done()
	defer func() {
		cs.closeOnce.Do(func() { cs.conn.Close() })
		s.mu.Lock()
		delete(s.conns, connID)
		s.mu.Unlock()
	}()

	group, ctx := errgroup.WithContext(s.ctx)
	group.Go(func() error { return s.readLoop(ctx, connID, cs) })
	group.Go(func() error { return s.writeLoop(ctx, cs) })
	_ = group.Wait()
}

func (s *Server) readLoop(ctx context.Context, connID uint64, cs *connState) error {
	for {
		if err := cs.limiter.Wait(ctx); err != nil {
			return err
		}
		f, err := ReadFrame(cs.conn)
		if err != nil {
			return err
		}
		select {
		case s.inbound <- Envelope{ConnID: connID, Frame: f}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, cs *connState) error {
	for {
		select {
		case f := <-cs.outbound:
			if err := WriteFrame(cs.conn, f); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send enqueues a frame on a connection's ConnToSend buffer. It is safe
// to call from the control loop after a dispatch pass; if the connection
// has already closed, the frame is dropped.
func (s *Server) Send(connID uint64, f Frame) error {
	s.mu.RLock()
	cs, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return errors.New("rpc: connection not found")
	}

	select {
	case cs.outbound <- f:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("rpc: send buffer full")
	}
}

// CloseConn forcibly closes one connection, used by the timeout sweeper
// to implement rm_resource_noaction_timeout eviction.
func (s *Server) CloseConn(connID uint64) {
	s.mu.RLock()
	cs, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	cs.closeOnce.Do(func() { cs.conn.Close() })
}

var (
	connIDMu   sync.Mutex
	connIDNext uint64
)

// nextConnID hands out monotonically increasing connection identifiers.
func nextConnID() uint64 {
	connIDMu.Lock()
	defer connIDMu.Unlock()
	connIDNext++
	return connIDNext
}
