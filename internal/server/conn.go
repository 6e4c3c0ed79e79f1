package server

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/arlimus/compressd/internal/protocol"
	"github.com/arlimus/compressd/internal/stats"
)

// ErrFlood is returned by the read loop when a client sends two
// consecutive oversized reads, tripping the abuse heuristic. The
// connection is closed without a response.
var ErrFlood = errors.New("connection dropped: repeated oversized reads")

// readBufferSize is sized strictly larger than MaxMessage so a single Read
// call can distinguish "exactly MaxMessage bytes" from "more than
// MaxMessage bytes". Each Read is treated as exactly one candidate frame;
// there is no reassembly of a frame across multiple reads.
const readBufferSize = protocol.MaxMessage + 1

// Conn represents one accepted client connection. It owns its own read and
// drain buffers; no state survives past disconnect. Requests are handled
// strictly in the order they are received: the read loop enqueues
// responses onto a buffered channel that the write loop drains in order.
type Conn struct {
	id      string
	rawConn *net.TCPConn
	logger  Logger
	stats   *stats.Stats

	buf      []byte
	drainBuf []byte

	sendMsg chan []byte
	closed  atomic.Bool
	cancel  context.CancelFunc
}

func newConn(raw *net.TCPConn, logger Logger, st *stats.Stats, sendBufferSize int) *Conn {
	if logger == nil {
		logger = defaultLogger()
	}
	if sendBufferSize <= 0 {
		sendBufferSize = defaultSendBufferSize
	}
	return &Conn{
		id:       uuid.NewString(),
		rawConn:  raw,
		logger:   logger,
		stats:    st,
		buf:      make([]byte, readBufferSize),
		drainBuf: make([]byte, readBufferSize),
		sendMsg:  make(chan []byte, sendBufferSize),
	}
}

// Run starts the connection's read and write loops. It blocks until the
// connection is closed, ctx is canceled, or an unrecoverable error occurs,
// and always closes the underlying socket before returning.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "id", c.id, "addr", c.Addr())

	ctx, c.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})
	group.Go(func() error {
		return c.writeLoop(child)
	})

	// Unblock a Read or Write parked on the socket once this connection or
	// the server as a whole is asked to shut down, the same trick Server
	// uses to unblock a pending Accept.
	go func() {
		<-child.Done()
		_ = c.rawConn.SetDeadline(time.Now())
	}()

	err := group.Wait()
	c.closeConn()

	switch {
	case err == nil:
		c.logger.Debug("connection closed", "id", c.id, "addr", c.Addr())
	case errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		c.logger.Debug("connection closed", "id", c.id, "addr", c.Addr())
	default:
		c.logger.Info("connection closed with error", "id", c.id, "addr", c.Addr(), "error", err)
	}

	return err
}

// Close gracefully closes the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	return c.rawConn.Close()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

func (c *Conn) closeConn() {
	c.closed.Store(true)
	_ = c.rawConn.Close()
}

// readLoop treats one Read call as one candidate frame, with flood
// detection for oversized reads and header-only error responses for framing
// failures. It never blocks on anything other than the socket read and the
// outbound channel send, so a slow client cannot stall compression or stats
// work for any other connection.
func (c *Conn) readLoop(ctx context.Context) error {
	// Once the read side is done, for any reason, nothing more will ever be
	// enqueued for the write side to send, so it must be told to stop too.
	defer c.cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := c.rawConn.Read(c.buf)
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read from connection")
		}
		c.stats.AddBytesIn(uint64(n))

		switch {
		case n > protocol.MaxMessage:
			dropped, herr := c.handleOversized(ctx)
			if herr != nil {
				return herr
			}
			if dropped {
				return ErrFlood
			}
		case n < protocol.HeaderSize:
			if !c.enqueue(ctx, protocol.EncodeError(protocol.StatusMessageTooSmall)) {
				return ctx.Err()
			}
		default:
			if !c.enqueue(ctx, handleFrame(c.buf[:n], c.stats)) {
				return ctx.Err()
			}
		}

		if err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "read from connection")
		}
		if err != nil {
			return nil
		}
	}
}

// handleOversized implements the one-shot flood heuristic: a single
// oversized read is reported to the client, but a second consecutive
// oversized read (observed via one drain read) trips abuse detection and
// the connection is dropped without a response.
func (c *Conn) handleOversized(ctx context.Context) (dropped bool, err error) {
	n, rerr := c.rawConn.Read(c.drainBuf)
	if n > 0 {
		c.stats.AddBytesIn(uint64(n))
	}
	if n >= protocol.MaxPayload {
		return true, nil
	}
	if rerr != nil && n == 0 {
		return false, errors.Wrap(rerr, "drain read after oversized frame")
	}
	if !c.enqueue(ctx, protocol.EncodeError(protocol.StatusMessageTooLarge)) {
		return false, ctx.Err()
	}
	return false, nil
}

// enqueue hands resp to the write loop, respecting cancellation. It
// returns false if ctx was canceled before the send could complete.
func (c *Conn) enqueue(ctx context.Context, resp []byte) bool {
	select {
	case c.sendMsg <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeLoop drains queued responses in order and writes each one fully to
// the socket. Exiting because ctx was canceled is not itself an error: the
// cancellation either came from the read side ending normally, or from
// whatever triggered the shutdown, which reports its own error if any.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case resp := <-c.sendMsg:
			if err := c.write(resp); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) write(resp []byte) error {
	n, err := c.rawConn.Write(resp)
	if n > 0 {
		c.stats.AddBytesOut(uint64(n))
	}
	if err != nil {
		return errors.Wrap(err, "write to connection")
	}
	return nil
}
