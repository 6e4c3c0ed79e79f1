package server

import "time"

// Default configuration values for a Server.
const defaultSendBufferSize = 8

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for listener and connection lifecycle
// events. Defaults to slog.Default().
func WithLogger(logger Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout. When the context
// passed to Serve is canceled, the server waits up to this duration before
// stopping the accept loop and canceling the connections still running,
// giving in-flight connections time to finish their current request. Default is 0 (immediate shutdown). Call Close to bypass
// the remaining timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// WithSendBufferSize sets the size of each connection's outbound response
// channel. Since responses must be emitted in request order and the
// connection is otherwise synchronous request/response, a small buffer is
// sufficient; it exists mainly to let the write loop lag briefly behind a
// burst of pipelined requests. Default is 8.
func WithSendBufferSize(size int) Option {
	return func(s *Server) {
		s.sendBufferSize = size
	}
}
