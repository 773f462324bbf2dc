// Package client connects to an RPC server and calls the services it
// exposes.
//
// A client can expose services too: once connected, the server may call
// back into anything registered on the client.
//
//	c := client.New("127.0.0.1:9000")
//	c.Connect(ctx)
//	var a struct{ GetA func() (int, error) }
//	c.Resolve(&a, "IA")
//	v, err := a.GetA()
package client

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"xrpc/middleware"
	"xrpc/peer"
	"xrpc/proxy"
	"xrpc/service"
	"xrpc/socket"
)

// Client is an RPC client bound to one server address. It holds at most one
// connection at a time and may reconnect after Disconnect.
type Client struct {
	addr     string
	opts     options
	registry *service.Registry
	sock     *socket.Client
	logger   *zap.Logger

	mu          sync.Mutex
	middlewares []middleware.Middleware

	session atomic.Pointer[session]
}

// session is the protocol state of the live connection.
type session struct {
	conn *socket.Conn
	peer *peer.Peer
}

// New returns a client for the server at addr. It does not connect.
func New(addr string, opt ...Option) *Client {
	c := &Client{
		addr: addr,
		opts: newOptions(opt...),
	}
	c.logger = c.opts.logger.With(zap.String("server", addr))
	c.registry = service.NewRegistry(c.opts.cacheSize)

	sockOpts := append([]socket.Option{}, c.opts.socket...)
	sockOpts = append(sockOpts,
		socket.LoggerOption(c.logger),
		socket.HandlerOption(socket.HandlerFuncs{
			Connected:    c.onConnected,
			Disconnected: c.onDisconnected,
			ReceiveData:  c.onReceiveData,
			Exception:    c.onException,
		}),
	)
	c.sock = socket.NewClient(sockOpts...)
	return c
}

func (c *Client) onConnected(conn *socket.Conn) {
	c.mu.Lock()
	mws := append([]middleware.Middleware(nil), c.middlewares...)
	c.mu.Unlock()

	p := peer.New(conn, peer.Config{
		Language:    c.opts.language,
		Converters:  c.opts.converters,
		Registry:    c.registry,
		Middlewares: mws,
		WaitTimeout: c.opts.waitTimeout,
		PoolSize:    c.opts.poolSize,
		Cipher:      c.opts.cipher,
		Logger:      c.logger,
		Events:      c.opts.events,
	})
	c.session.Store(&session{conn: conn, peer: p})
	p.Connected()
}

func (c *Client) onDisconnected(conn *socket.Conn) {
	s := c.current(conn)
	if s == nil {
		return
	}
	c.session.CompareAndSwap(s, nil)
	s.peer.Disconnected()
}

func (c *Client) onReceiveData(conn *socket.Conn, data []byte) {
	if s := c.current(conn); s != nil {
		s.peer.HandleData(data)
	}
}

func (c *Client) onException(conn *socket.Conn, err error) {
	if s := c.current(conn); s != nil {
		s.peer.Exception(err)
		return
	}
	c.logger.Error("connection exception", zap.Error(err))
}

func (c *Client) current(conn *socket.Conn) *session {
	s := c.session.Load()
	if s == nil || s.conn != conn {
		return nil
	}
	return s
}

// Connect dials the server.
func (c *Client) Connect(ctx context.Context) error {
	return c.sock.Connect(ctx, c.addr)
}

// Disconnect closes the connection. Pending calls fail with a network
// error. The client may Connect again.
func (c *Client) Disconnect() error {
	return c.sock.Disconnect(true)
}

// Close disconnects for good.
func (c *Client) Close() error {
	return c.sock.Close()
}

// IsRunning reports whether the client has not been closed.
func (c *Client) IsRunning() bool {
	return c.sock.IsRunning()
}

// IsConnected reports whether a connection is live.
func (c *Client) IsConnected() bool {
	return c.sock.IsConnected()
}

// Peer returns the protocol state of the live connection, or nil.
func (c *Client) Peer() *peer.Peer {
	if s := c.session.Load(); s != nil {
		return s.peer
	}
	return nil
}

// Registry returns the services this client exposes to the server.
func (c *Client) Registry() *service.Registry {
	return c.registry
}

// Register exposes impl to the server as the service iface.
func (c *Client) Register(iface reflect.Type, impl any) (*service.Service, error) {
	return c.registry.Register(iface, impl)
}

// Unregister withdraws a service.
func (c *Client) Unregister(name string) bool {
	return c.registry.Unregister(name)
}

// Use adds a middleware around calls the server makes into this client. It
// takes effect from the next Connect.
func (c *Client) Use(mw middleware.Middleware) {
	c.mu.Lock()
	c.middlewares = append(c.middlewares, mw)
	c.mu.Unlock()
}

// Resolve fills target, a pointer to a struct of function fields, with
// stubs calling the server's service typeName. The stubs survive
// reconnects. See package proxy.
func (c *Client) Resolve(target any, typeName string) error {
	return proxy.Build(target, typeName, c)
}

// Call invokes method of the server's service typeName. See peer.Peer.Call.
func (c *Client) Call(ctx context.Context, typeName, method string, result any, args ...any) error {
	p := c.Peer()
	if p == nil {
		return errors.WithStack(socket.ErrNotConnected)
	}
	return p.Call(ctx, typeName, method, result, args...)
}

// Invoke implements proxy.Invoker over the live connection.
func (c *Client) Invoke(ctx context.Context, m *proxy.Method, args []any) (any, error) {
	p := c.Peer()
	if p == nil {
		return nil, errors.WithStack(socket.ErrNotConnected)
	}
	return p.Invoke(ctx, m, args)
}
