package client

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

// Option configures a Client.
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

// LanguageOption sets the language the client reports to servers.
func LanguageOption(lang message.Language) Option {
	return func(o *options) {
		o.language = lang
	}
}

// WaitTimeoutOption bounds how long a call waits for its response. Zero
// waits until the call's context is done.
func WaitTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.waitTimeout = d
	}
}

// PoolSizeOption bounds the number of concurrent calls. Zero is unbounded.
func PoolSizeOption(n int) Option {
	return func(o *options) {
		o.poolSize = n
	}
}

// CacheSizeOption sets the per-service method resolution cache size for
// services the client exposes.
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

// CipherOption sets the transform applied to every envelope.
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

// EventsOption sets the connection lifecycle callbacks.
func EventsOption(e peer.Events) Option {
	return func(o *options) {
		o.events = e
	}
}

// SocketOption passes options to the underlying socket client. The
// handler and logger are set by the client and cannot be overridden.
func SocketOption(opt ...socket.Option) Option {
	return func(o *options) {
		o.socket = append(o.socket, opt...)
	}
}
