// Package server implements the compressd listener and per-connection
// handling: a TCP accept loop that hands each socket to its own connection
// task, with paired read/write goroutines per connection coordinated through
// an errgroup and a buffered response channel.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arlimus/compressd/internal/stats"
)

// Server listens for TCP connections speaking the compressd wire protocol
// and dispatches each accepted socket to its own connection task, sharing
// one Stats handle across all of them.
type Server struct {
	listener *net.TCPListener
	stats    *stats.Stats

	logger          Logger
	shutdownTimeout time.Duration
	sendBufferSize  int

	active      sync.WaitGroup // tracks connection tasks still running
	shutdown    atomic.Bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// New binds a TCP listener at addr and returns a Server that shares st
// across every connection it accepts.
func New(addr *net.TCPAddr, st *stats.Stats, opts ...Option) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:       listener,
		stats:          st,
		logger:         defaultLogger(),
		sendBufferSize: defaultSendBufferSize,
		shutdownNow:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and dispatches them until ctx is canceled or an
// unrecoverable accept error occurs. It blocks until shutdown completes.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	// Connection tasks get their own context so that canceling ctx does not
	// cut them off at once; awaitShutdown cancels it when its wait is over.
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()
	go s.awaitShutdown(ctx, cancelConns)

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.shutdown.Load() {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				s.active.Wait()
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		c := newConn(conn, s.logger, s.stats, s.sendBufferSize)
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			if err := c.Run(connCtx); err != nil {
				s.logger.Debug("connection task ended", "error", err)
			}
		}()
	}
}

// awaitShutdown waits for ctx to be canceled, then gives in-flight
// connections up to shutdownTimeout to drain on their own (or until Close
// bypasses the wait) before canceling the connections still running and
// forcing the listener's Accept to unblock.
func (s *Server) awaitShutdown(ctx context.Context, cancelConns context.CancelFunc) {
	<-ctx.Done()

	if s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
		drained := make(chan struct{})
		go func() {
			s.active.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			s.logger.Debug("connections drained before shutdown timeout elapsed")
		case <-time.After(s.shutdownTimeout):
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		}
	}

	cancelConns()
	s.shutdown.Store(true)
	_ = s.listener.SetDeadline(time.Now())
}

// Close stops the server by closing the underlying listener. If a shutdown
// timeout is configured, Close bypasses the remaining timeout. Any blocked
// Accept call returns with an error.
func (s *Server) Close() error {
	s.shutdown.Store(true)

	select {
	case s.shutdownNow <- struct{}{}:
	default:
		// Channel already has a signal or no one is listening.
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stats returns the Stats instance shared by every connection this server
// accepts.
func (s *Server) Stats() *stats.Stats {
	return s.stats
}
