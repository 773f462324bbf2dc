package socket

import (
	"time"

	"go.uber.org/zap"

	"xrpc/protocol"
)

// Default configuration values.
const (
	DefaultWorkerPoolSize = 256
	DefaultSendBufferSize = 64
	DefaultWriteTimeout   = 30 * time.Second

	// readBufferSize is the size of one socket read, not a limit on packets.
	readBufferSize = 32 * 1024

	flushInterval = 5 * time.Millisecond
	drainTimeout  = time.Second
)

// options holds the configuration shared by clients, servers and their
// connections.
type options struct {
	handler Handler
	logger  *zap.Logger

	packetSize   int           // maximum size of one framed packet
	workers      int           // concurrent OnReceiveData calls per connection
	sendBuffer   int           // queued outgoing packets per connection
	writeTimeout time.Duration // deadline for one socket write, 0 for none
}

// Option configures a Client or Server.
type Option func(*options)

func newOptions(opt ...Option) options {
	opts := options{
		packetSize:   protocol.DefaultPacketSize,
		workers:      DefaultWorkerPoolSize,
		sendBuffer:   DefaultSendBufferSize,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, o := range opt {
		o(&opts)
	}
	if !protocol.ValidPacketSize(opts.packetSize) {
		opts.packetSize = protocol.DefaultPacketSize
	}
	if opts.workers <= 0 {
		opts.workers = DefaultWorkerPoolSize
	}
	if opts.sendBuffer < 0 {
		opts.sendBuffer = DefaultSendBufferSize
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.handler == nil {
		opts.handler = HandlerFuncs{}
	}
	return opts
}

// HandlerOption sets the event handler. A Server additionally reports its
// own start and stop when the handler implements ServerHandler.
func HandlerOption(h Handler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// LoggerOption sets the logger. The default discards everything.
func LoggerOption(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// PacketSizeOption sets the maximum size of one framed packet, header
// included. It also decides the width of the length header.
func PacketSizeOption(size int) Option {
	return func(o *options) {
		o.packetSize = size
	}
}

// WorkerPoolSizeOption bounds the number of packets of one connection that
// are handled at the same time.
func WorkerPoolSizeOption(size int) Option {
	return func(o *options) {
		o.workers = size
	}
}

// SendBufferSizeOption sets how many outgoing packets may be queued before
// Send blocks.
func SendBufferSizeOption(size int) Option {
	return func(o *options) {
		o.sendBuffer = size
	}
}

// WriteTimeoutOption sets the deadline for writing one packet. A stalled
// peer is disconnected when it expires. Zero disables the deadline.
func WriteTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}
