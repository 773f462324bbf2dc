package socket

// Handler receives connection events. Calls for one connection may come
// from different goroutines: OnReceiveData runs on the connection's worker
// pool, OnSendData on its write loop.
type Handler interface {
	// OnConnected is called once the connection is usable, before any data
	// is delivered.
	OnConnected(c *Conn)
	// OnDisconnected is called once after the connection has stopped.
	OnDisconnected(c *Conn)
	// OnReceiveData is called with each complete packet payload.
	OnReceiveData(c *Conn, data []byte)
	// OnSendData is called after a packet has been written to the socket.
	OnSendData(c *Conn, data []byte)
	// OnException reports a failure. The connection is stopped afterwards
	// unless the failure came from a handler.
	OnException(c *Conn, err error)
}

// ServerHandler is a Handler that is also told when a Server starts
// accepting and when it has stopped. Its per-connection methods report
// the server's clients.
type ServerHandler interface {
	Handler
	OnStarted(s *Server)
	OnStopped(s *Server)
}

// HandlerFuncs adapts optional functions to Handler. Nil fields are
// ignored.
type HandlerFuncs struct {
	Connected    func(c *Conn)
	Disconnected func(c *Conn)
	ReceiveData  func(c *Conn, data []byte)
	SendData     func(c *Conn, data []byte)
	Exception    func(c *Conn, err error)
}

func (h HandlerFuncs) OnConnected(c *Conn) {
	if h.Connected != nil {
		h.Connected(c)
	}
}

func (h HandlerFuncs) OnDisconnected(c *Conn) {
	if h.Disconnected != nil {
		h.Disconnected(c)
	}
}

func (h HandlerFuncs) OnReceiveData(c *Conn, data []byte) {
	if h.ReceiveData != nil {
		h.ReceiveData(c, data)
	}
}

func (h HandlerFuncs) OnSendData(c *Conn, data []byte) {
	if h.SendData != nil {
		h.SendData(c, data)
	}
}

func (h HandlerFuncs) OnException(c *Conn, err error) {
	if h.Exception != nil {
		h.Exception(c, err)
	}
}

// ServerHandlerFuncs adds the server lifecycle to HandlerFuncs.
type ServerHandlerFuncs struct {
	HandlerFuncs
	Started func(s *Server)
	Stopped func(s *Server)
}

func (h ServerHandlerFuncs) OnStarted(s *Server) {
	if h.Started != nil {
		h.Started(s)
	}
}

func (h ServerHandlerFuncs) OnStopped(s *Server) {
	if h.Stopped != nil {
		h.Stopped(s)
	}
}
