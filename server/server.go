// Package server exposes registered services to RPC clients.
//
// Request processing pipeline:
//
//	Accept conn → socket.Conn read loop → worker pool
//	  → peer.HandleData (fragment reassembly)
//	    → decode envelope → Middleware Chain → service.Resolve → service.Invoke
//	      → encode response → fragment → socket.Conn write loop
//
// Every connection gets its own peer, so the server can also call services
// a client registered.
package server

import (
	"context"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"xrpc/message"
	"xrpc/middleware"
	"xrpc/peer"
	"xrpc/rpcerr"
	"xrpc/service"
	"xrpc/socket"
)

// ErrShutdownTimeout is returned by Shutdown when requests were still being
// processed at the deadline.
var ErrShutdownTimeout = errors.New("server: timeout waiting for ongoing requests to finish")

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	opts     options
	registry *service.Registry // shared by every connection
	logger   *zap.Logger

	mu          sync.Mutex
	middlewares []middleware.Middleware // applied in the order added
	sock        *socket.Server

	peers    sync.Map    // *socket.Conn → *peer.Peer
	shutdown atomic.Bool // set by Shutdown, new requests are refused
}

// New returns a server with no services.
func New(opt ...Option) *Server {
	s := &Server{opts: newOptions(opt...)}
	s.logger = s.opts.logger
	s.registry = service.NewRegistry(s.opts.cacheSize)
	return s
}

// Register exposes impl as the service iface.
func (s *Server) Register(iface reflect.Type, impl any) (*service.Service, error) {
	svc, err := s.registry.Register(iface, impl)
	if err != nil {
		return nil, err
	}
	s.logger.Info("service registered", zap.String("service", svc.Name()))
	return svc, nil
}

// Unregister withdraws a service. Requests already dispatched complete.
func (s *Server) Unregister(name string) bool {
	return s.registry.Unregister(name)
}

// Registry returns the server's services.
func (s *Server) Registry() *service.Registry {
	return s.registry
}

// Use registers a middleware. Middlewares are applied in the order they are
// added and take effect for connections accepted afterwards.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.mu.Unlock()
}

// Listen binds addr.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	if s.sock != nil {
		s.mu.Unlock()
		return errors.New("server: already listening")
	}
	sockOpts := append([]socket.Option{}, s.opts.socket...)
	sockOpts = append(sockOpts,
		socket.LoggerOption(s.logger),
		socket.HandlerOption(socket.ServerHandlerFuncs{
			HandlerFuncs: socket.HandlerFuncs{
				Connected:    s.onConnected,
				Disconnected: s.onDisconnected,
				ReceiveData:  s.onReceiveData,
				Exception:    s.onException,
			},
		}),
	)
	sock := socket.NewServer(sockOpts...)
	s.sock = sock
	s.mu.Unlock()

	if err := sock.Listen(addr); err != nil {
		s.mu.Lock()
		s.sock = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

// Serve accepts connections until ctx is done or Shutdown is called. It
// returns nil after a requested stop.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return errors.New("server: Serve called before Listen")
	}
	return sock.Serve(ctx)
}

// ListenAndServe binds addr and serves it.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return nil
	}
	return sock.Addr()
}

// Peers returns the protocol state of every connected client.
func (s *Server) Peers() []*peer.Peer {
	var out []*peer.Peer
	s.peers.Range(func(_, v any) bool {
		out = append(out, v.(*peer.Peer))
		return true
	})
	return out
}

// Shutdown performs graceful shutdown:
//  1. Refuse new requests with a system error
//  2. Wait for requests being processed to be answered (with timeout)
//  3. Flush queued responses, then close the listener and every connection
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)

	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for _, p := range s.Peers() {
			p.Wait()
		}
		close(done)
	}()

	var err error
	select {
	case <-done:
		for _, c := range sock.Clients() {
			if ferr := c.Flush(ctx); ferr != nil && !errors.Is(ferr, socket.ErrClosed) {
				err = errors.Wrap(ferr, "server: flush responses")
				break
			}
		}
	case <-ctx.Done():
		err = ErrShutdownTimeout
	}

	if serr := sock.Stop(); serr != nil && err == nil {
		err = serr
	}
	s.logger.Info("server shut down", zap.Error(err))
	return err
}

// refuse rejects requests once shutdown has begun.
func (s *Server) refuse(next middleware.HandlerFunc) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Request) *message.Response {
		if s.shutdown.Load() {
			return middleware.ErrorResponse(rpcerr.System("server is shutting down", nil))
		}
		return next(ctx, req)
	}
}

func (s *Server) onConnected(conn *socket.Conn) {
	s.mu.Lock()
	mws := append([]middleware.Middleware{s.refuse}, s.middlewares...)
	s.mu.Unlock()

	p := peer.New(conn, peer.Config{
		Language:    s.opts.language,
		Converters:  s.opts.converters,
		Registry:    s.registry,
		Middlewares: mws,
		WaitTimeout: s.opts.waitTimeout,
		PoolSize:    s.opts.poolSize,
		Cipher:      s.opts.cipher,
		Logger:      s.logger.With(zap.Stringer("client", conn.RemoteAddr())),
		Events:      s.opts.events,
	})
	s.peers.Store(conn, p)
	p.Connected()
}

func (s *Server) onDisconnected(conn *socket.Conn) {
	if v, ok := s.peers.LoadAndDelete(conn); ok {
		v.(*peer.Peer).Disconnected()
	}
}

func (s *Server) onReceiveData(conn *socket.Conn, data []byte) {
	if v, ok := s.peers.Load(conn); ok {
		v.(*peer.Peer).HandleData(data)
	}
}

func (s *Server) onException(conn *socket.Conn, err error) {
	if v, ok := s.peers.Load(conn); ok {
		v.(*peer.Peer).Exception(err)
		return
	}
	s.logger.Error("connection exception", zap.Stringer("client", conn.RemoteAddr()), zap.Error(err))
}
