package server

import (
	"time"

	"go.uber.org/zap"

	"xrpc/convert"
	"xrpc/message"
	"xrpc/peer"
	"xrpc/socket"
)

type options struct {
	language    message.Language
	waitTimeout time.Duration
	poolSize    int
	cacheSize   int
	converters  convert.Config
	cipher      peer.Cipher
	logger      *zap.Logger
	events      peer.Events
	socket      []socket.Option
}

// Option configures a Server.
type Option func(*options)

func newOptions(opt ...Option) options {
	opts := options{
		language:    message.LanguageGo,
		waitTimeout: peer.DefaultWaitTimeout,
		logger:      zap.NewNop(),
	}
	for _, o := range opt {
		o(&opts)
	}
	if opts.converters == nil {
		opts.converters = convert.Default()
	}
	return opts
}

// LanguageOption sets the language the server reports to clients.
func LanguageOption(lang message.Language) Option {
	return func(o *options) {
		o.language = lang
	}
}

// WaitTimeoutOption bounds how long a call from the server into a client
// waits for its response.
func WaitTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.waitTimeout = d
	}
}

// PoolSizeOption bounds the concurrent calls into each client.
func PoolSizeOption(n int) Option {
	return func(o *options) {
		o.poolSize = n
	}
}

func CacheSizeOption(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// ConvertersOption replaces the per-language converters.
func ConvertersOption(c convert.Config) Option {
	return func(o *options) {
		o.converters = c
	}
}

func CipherOption(c peer.Cipher) Option {
	return func(o *options) {
		o.cipher = c
	}
}

func LoggerOption(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// EventsOption sets callbacks fired for every client connection.
func EventsOption(e peer.Events) Option {
	return func(o *options) {
		o.events = e
	}
}

// SocketOption passes options to the underlying socket server.
func SocketOption(opt ...socket.Option) Option {
	return func(o *options) {
		o.socket = append(o.socket, opt...)
	}
}
