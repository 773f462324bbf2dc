package socket

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"xrpc/protocol"
)

var (
	// ErrNotConnected is returned by Client.Send before Connect or after the
	// connection dropped.
	ErrNotConnected = errors.New("socket: not connected")
	// ErrConnected is returned by Client.Connect while a connection is live.
	ErrConnected = errors.New("socket: already connected")
)

// Client dials a server and runs one connection at a time.
type Client struct {
	opts options

	mu     sync.Mutex
	conn   *Conn
	closed bool
}

// NewClient returns a Client configured by opt.
func NewClient(opt ...Option) *Client {
	return &Client{opts: newOptions(opt...)}
}

// Connect dials addr and starts the connection's loops. The handler's
// OnConnected has returned by the time Connect does.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		c.mu.Unlock()
		return ErrConnected
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrapf(err, "socket: dial %s", addr)
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	conn := newConn(raw, &c.opts)
	c.conn = conn
	c.mu.Unlock()

	go conn.serve(context.Background())
	<-conn.ready
	return nil
}

// Disconnect closes the live connection and waits for OnDisconnected. With
// reuse set the client may Connect again; otherwise it is closed for good.
// It must not be called from OnDisconnected.
func (c *Client) Disconnect(reuse bool) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if !reuse {
		c.closed = true
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.opts.logger.Debug("disconnecting", zap.Stringer("remote", conn.RemoteAddr()), zap.Bool("reuse", reuse))
	conn.Close()
	conn.Wait()
	return nil
}

// Close disconnects and makes the client unusable.
func (c *Client) Close() error {
	return c.Disconnect(false)
}

// Send queues data on the live connection.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case conn == nil:
		return ErrNotConnected
	}
	return conn.Send(data)
}

// Conn returns the live connection, or nil.
func (c *Client) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsRunning reports whether the client has not been closed for good.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// IsConnected reports whether a connection is live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// LocalAddr returns the local address of the live connection, or nil.
func (c *Client) LocalAddr() net.Addr {
	if conn := c.Conn(); conn != nil {
		return conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote address of the live connection, or nil.
func (c *Client) RemoteAddr() net.Addr {
	if conn := c.Conn(); conn != nil {
		return conn.RemoteAddr()
	}
	return nil
}

// PacketSize returns the maximum packet size, header included.
func (c *Client) PacketSize() int {
	return c.opts.packetSize
}

// HeaderLength returns the width of the packet length header.
func (c *Client) HeaderLength() int {
	return protocol.HeaderLength(c.opts.packetSize)
}
