// Package socket provides the asynchronous TCP layer: a dialing Client, a
// listening Server, and the Conn both of them drive.
//
// A Conn runs a read loop and a write loop. Bytes read from the socket go
// through a protocol.Framer; every complete packet is handed to the
// Handler on a bounded worker pool so a slow handler never holds up the
// next read. Outgoing packets are framed and queued for the write loop.
package socket

import (
	"context"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"xrpc/protocol"
)

var (
	// ErrClosed is returned when using a connection or client that has been
	// closed.
	ErrClosed = errors.New("socket: closed")
	// ErrPacketTooLarge is returned by Send when data does not fit in one
	// packet.
	ErrPacketTooLarge = errors.New("socket: packet too large")
)

type outgoing struct {
	frame []byte
	data  []byte
}

// Conn is one established TCP connection.
type Conn struct {
	raw     net.Conn
	framer  *protocol.Framer
	handler Handler
	logger  *zap.Logger
	opts    *options

	sendq   chan outgoing
	sendMu  sync.RWMutex // held shared by Send, exclusively while discarding sendq
	queued  atomic.Int64 // packets accepted by Send and not yet written
	workers *semaphore.Weighted

	closed    atomic.Bool // set once the connection starts closing
	closing   atomic.Bool // set by Close
	closeOnce sync.Once
	ready     chan struct{} // closed after OnConnected returns
	done      chan struct{} // closed when the connection starts closing
	stopped   chan struct{} // closed after OnDisconnected returns
}

func newConn(raw net.Conn, opts *options) *Conn {
	return &Conn{
		raw:     raw,
		framer:  protocol.NewFramer(opts.packetSize),
		handler: opts.handler,
		logger:  opts.logger.With(zap.Stringer("remote", raw.RemoteAddr())),
		opts:    opts,
		sendq:   make(chan outgoing, opts.sendBuffer),
		workers: semaphore.NewWeighted(int64(opts.workers)),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// serve runs the connection until it fails, the peer hangs up, ctx is done
// or Close is called. The handler sees OnConnected first and OnDisconnected
// last.
func (c *Conn) serve(ctx context.Context) error {
	defer close(c.stopped)

	c.logger.Info("connection established", zap.Stringer("local", c.raw.LocalAddr()))
	c.handler.OnConnected(c)
	close(c.ready)

	group, child := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.readLoop(child)
	})
	group.Go(func() error {
		return c.writeLoop(child)
	})
	group.Go(func() error {
		// Unblocks the read loop.
		select {
		case <-child.Done():
		case <-c.done:
		}
		c.shutdown()
		return nil
	})

	err := group.Wait()
	c.shutdown()
	if n := c.discard(); n > 0 {
		c.logger.Warn("unsent packets discarded", zap.Int("count", n))
	}

	// Packets already read are delivered before OnDisconnected.
	drain, cancel := context.WithTimeout(context.Background(), drainTimeout)
	if werr := c.workers.Acquire(drain, int64(c.opts.workers)); werr != nil {
		c.logger.Warn("handlers still running at disconnect", zap.Error(werr))
	} else {
		c.workers.Release(int64(c.opts.workers))
	}
	cancel()

	if c.expected(err) {
		c.logger.Info("connection closed")
		err = nil
	} else {
		c.logger.Error("connection closed with error", zap.Error(err))
		c.handler.OnException(c, err)
	}
	c.handler.OnDisconnected(c)
	return err
}

// expected reports whether err is an ordinary end of the connection.
func (c *Conn) expected(err error) bool {
	switch {
	case err == nil, c.closing.Load():
		return true
	case errors.Is(err, io.EOF), errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed):
		return true
	}
	return false
}

func (c *Conn) readLoop(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			c.framer.Push(buf[:n])
			for {
				payload, ok, ferr := c.framer.TryPull()
				if ferr != nil {
					return ferr
				}
				if !ok {
					break
				}
				if err := c.dispatch(ctx, payload); err != nil {
					return err
				}
			}
		}
		if err != nil {
			return errors.Wrap(err, "socket: read")
		}
	}
}

// dispatch hands payload to the handler on the worker pool, waiting for a
// free worker when all are busy.
func (c *Conn) dispatch(ctx context.Context, payload []byte) error {
	if err := c.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer c.workers.Release(1)
		defer c.recoverHandler("OnReceiveData")
		c.handler.OnReceiveData(c, payload)
	}()
	return nil
}

func (c *Conn) recoverHandler(event string) {
	if r := recover(); r != nil {
		err := errors.Errorf("socket: %s panicked: %v\n%s", event, r, debug.Stack())
		c.logger.Error("handler panic", zap.String("event", event), zap.Any("panic", r))
		c.handler.OnException(c, err)
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-c.sendq:
			if c.opts.writeTimeout > 0 {
				_ = c.raw.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			}
			_, err := c.raw.Write(m.frame)
			c.queued.Add(-1)
			if err != nil {
				return errors.Wrap(err, "socket: write")
			}
			c.logger.Debug("packet sent", zap.Int("bytes", len(m.data)))
			c.sent(m.data)
		}
	}
}

func (c *Conn) sent(data []byte) {
	defer c.recoverHandler("OnSendData")
	c.handler.OnSendData(c, data)
}

// Send frames data and queues it for the write loop. It blocks only while
// the send queue is full.
func (c *Conn) Send(data []byte) error {
	if limit := protocol.MaxPayload(c.opts.packetSize); len(data) > limit {
		return errors.Wrapf(ErrPacketTooLarge, "%d bytes, limit %d", len(data), limit)
	}
	frame, err := protocol.Frame(c.framer.HeaderLength(), data)
	if err != nil {
		return err
	}

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed.Load() {
		return ErrClosed
	}
	c.queued.Add(1)
	select {
	case c.sendq <- outgoing{frame: frame, data: data}:
		// Enqueued while closing: the write loop may already be gone and
		// discard accounts for it.
		if c.closed.Load() {
			return ErrClosed
		}
		return nil
	case <-c.done:
		c.queued.Add(-1)
		return ErrClosed
	}
}

// discard empties sendq once the write loop has stopped and returns the
// number of packets dropped. Sends still in progress finish first; later
// ones see closed.
func (c *Conn) discard() int {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	n := 0
	for {
		select {
		case <-c.sendq:
			c.queued.Add(-1)
			n++
		default:
			return n
		}
	}
}

// Flush blocks until every packet accepted by Send has been written, the
// connection closes or ctx is done.
func (c *Conn) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for c.queued.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closing.Store(true)
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.raw.Close()
	})
}

// Done is closed when the connection starts closing.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the connection has stopped and OnDisconnected has
// returned.
func (c *Conn) Wait() {
	<-c.stopped
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// PacketSize returns the maximum packet size, header included.
func (c *Conn) PacketSize() int {
	return c.opts.packetSize
}

// HeaderLength returns the width of the packet length header.
func (c *Conn) HeaderLength() int {
	return c.framer.HeaderLength()
}

func (c *Conn) String() string {
	return fmt.Sprintf("%s->%s", c.raw.LocalAddr(), c.raw.RemoteAddr())
}
