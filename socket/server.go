package socket

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Server accepts TCP connections and runs each one with the configured
// handler.
type Server struct {
	opts options

	mu       sync.Mutex
	listener net.Listener
	clients  map[*Conn]struct{}
	shutdown bool
	serving  chan struct{} // closed when Serve returns

	wg sync.WaitGroup
}

// NewServer returns a Server configured by opt. Call Listen, then Serve.
func NewServer(opt ...Option) *Server {
	return &Server{
		opts:    newOptions(opt...),
		clients: make(map[*Conn]struct{}),
	}
}

// Listen binds addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "socket: listen %s", addr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		ln.Close()
		return errors.New("socket: server already listening")
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until ctx is done or Stop is called. Before
// returning it closes every client and waits for their OnDisconnected.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return errors.New("socket: Serve called before Listen")
	}
	if s.serving != nil {
		s.mu.Unlock()
		return errors.New("socket: server already serving")
	}
	s.serving = make(chan struct{})
	s.mu.Unlock()
	defer close(s.serving)

	logger := s.opts.logger.With(zap.Stringer("addr", ln.Addr()))
	logger.Info("server started")
	if h, ok := s.opts.handler.(ServerHandler); ok {
		h.OnStarted(s)
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		ln.Close()
	})
	defer stop()

	var err error
	for {
		raw, aerr := ln.Accept()
		if aerr != nil {
			s.mu.Lock()
			down := s.shutdown
			s.mu.Unlock()
			if !down {
				logger.Error("accept error", zap.Error(aerr))
				err = errors.Wrap(aerr, "socket: accept")
			}
			break
		}

		logger.Debug("accepted connection", zap.Stringer("remote_addr", raw.RemoteAddr()))
		if tcp, ok := raw.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		conn := newConn(raw, &s.opts)
		if !s.track(conn) {
			raw.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			conn.serve(ctx)
		}()
	}

	for _, c := range s.Clients() {
		c.Close()
	}
	s.wg.Wait()

	logger.Info("server stopped")
	if h, ok := s.opts.handler.(ServerHandler); ok {
		h.OnStopped(s)
	}
	return err
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// Stop closes the listener and every client, and waits for Serve to
// return.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	ln, serving := s.listener, s.serving
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if serving != nil {
		<-serving
	}
	return err
}

// Addr returns the listener's address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Clients returns the live connections.
func (s *Server) Clients() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}
