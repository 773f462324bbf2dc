/*
Package config reads client and server settings from YAML.

Config files are of this general form:

	packet_size: 65535
	worker_pool_size: 256
	send_buffer_size: 64
	write_timeout: 30s
	wait_timeout: 10s
	wait_pool_size: 0
	cache_size: 128
	language: Go
	dispatch_timeout: 5s
	rate_limit:
	  rate: 1000
	  burst: 100
	log_level: info

Every field is optional. Absent fields keep the values of Default.

PacketSize is the largest framed packet, length header included. It must
leave room for at least one byte of fragment data.

WaitTimeout bounds each outgoing call; 0 waits until the call's context
is done. WaitPoolSize bounds the number of concurrent outgoing calls per
connection; 0 is unbounded.

DispatchTimeout and RateLimit apply to incoming requests. A zero
DispatchTimeout or a zero Rate disables the corresponding middleware.
*/
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	yaml "gopkg.in/yaml.v2"

	"xrpc/client"
	"xrpc/fragment"
	"xrpc/message"
	"xrpc/middleware"
	"xrpc/peer"
	"xrpc/protocol"
	"xrpc/server"
	"xrpc/service"
	"xrpc/socket"
)

// Config holds the settings shared by clients and servers.
type Config struct {
	PacketSize      int           `yaml:"packet_size"`
	WorkerPoolSize  int           `yaml:"worker_pool_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	WaitPoolSize    int           `yaml:"wait_pool_size"`
	CacheSize       int           `yaml:"cache_size"`
	Language        string        `yaml:"language"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
	LogLevel        string        `yaml:"log_level"`
}

// RateLimit configures the token bucket applied to incoming requests.
type RateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		PacketSize:     protocol.DefaultPacketSize,
		WorkerPoolSize: socket.DefaultWorkerPoolSize,
		SendBufferSize: socket.DefaultSendBufferSize,
		WriteTimeout:   socket.DefaultWriteTimeout,
		WaitTimeout:    peer.DefaultWaitTimeout,
		CacheSize:      service.DefaultCacheSize,
		Language:       message.LanguageGo.String(),
		LogLevel:       "info",
	}
}

// Load parses the named file.
func Load(name string) (*Config, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config: %s", name)
	}
	return cfg, nil
}

// Parse parses a YAML document on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case !protocol.ValidPacketSize(c.PacketSize):
		return errors.Errorf("config: packet_size %d out of range", c.PacketSize)
	case protocol.MaxPayload(c.PacketSize) <= fragment.Overhead:
		return errors.Errorf("config: packet_size %d leaves no room for fragment data", c.PacketSize)
	case c.WorkerPoolSize <= 0:
		return errors.Errorf("config: worker_pool_size must be positive, got %d", c.WorkerPoolSize)
	case c.SendBufferSize < 0:
		return errors.Errorf("config: send_buffer_size must not be negative, got %d", c.SendBufferSize)
	case c.WriteTimeout < 0, c.WaitTimeout < 0, c.DispatchTimeout < 0:
		return errors.New("config: timeouts must not be negative")
	case c.WaitPoolSize < 0:
		return errors.Errorf("config: wait_pool_size must not be negative, got %d", c.WaitPoolSize)
	case c.CacheSize < 0:
		return errors.Errorf("config: cache_size must not be negative, got %d", c.CacheSize)
	case c.RateLimit.Rate < 0:
		return errors.Errorf("config: rate_limit.rate must not be negative, got %v", c.RateLimit.Rate)
	case c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0:
		return errors.Errorf("config: rate_limit.burst must be positive, got %d", c.RateLimit.Burst)
	}
	if _, err := message.ParseLanguage(c.Language); err != nil {
		return errors.Wrap(err, "config: language")
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) level() (zapcore.Level, error) {
	var l zapcore.Level
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, errors.Wrap(err, "config: log_level")
	}
	return l, nil
}

// Logger builds a production logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	l, err := c.level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(l)
	return zc.Build()
}

func (c *Config) socketOptions() []socket.Option {
	return []socket.Option{
		socket.PacketSizeOption(c.PacketSize),
		socket.WorkerPoolSizeOption(c.WorkerPoolSize),
		socket.SendBufferSizeOption(c.SendBufferSize),
		socket.WriteTimeoutOption(c.WriteTimeout),
	}
}

func (c *Config) language() message.Language {
	lang, err := message.ParseLanguage(c.Language)
	if err != nil {
		return message.LanguageGo
	}
	return lang
}

// ClientOptions translates the settings into client options.
func (c *Config) ClientOptions() []client.Option {
	return []client.Option{
		client.LanguageOption(c.language()),
		client.WaitTimeoutOption(c.WaitTimeout),
		client.PoolSizeOption(c.WaitPoolSize),
		client.CacheSizeOption(c.CacheSize),
		client.SocketOption(c.socketOptions()...),
	}
}

// ServerOptions translates the settings into server options.
func (c *Config) ServerOptions() []server.Option {
	return []server.Option{
		server.LanguageOption(c.language()),
		server.WaitTimeoutOption(c.WaitTimeout),
		server.PoolSizeOption(c.WaitPoolSize),
		server.CacheSizeOption(c.CacheSize),
		server.SocketOption(c.socketOptions()...),
	}
}

// Middlewares returns the dispatch middlewares the settings enable, outermost
// first.
func (c *Config) Middlewares(logger *zap.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.Recover()}
	if logger != nil {
		mws = append(mws, middleware.Logging(logger))
	}
	if c.RateLimit.Rate > 0 {
		mws = append(mws, middleware.RateLimit(c.RateLimit.Rate, c.RateLimit.Burst))
	}
	if c.DispatchTimeout > 0 {
		mws = append(mws, middleware.Timeout(c.DispatchTimeout))
	}
	return mws
}

// NewServer returns a server configured by c. opt is applied after the
// configured options.
func (c *Config) NewServer(logger *zap.Logger, opt ...server.Option) *server.Server {
	opts := c.ServerOptions()
	if logger != nil {
		opts = append(opts, server.LoggerOption(logger))
	}
	svr := server.New(append(opts, opt...)...)
	for _, mw := range c.Middlewares(logger) {
		svr.Use(mw)
	}
	return svr
}

// NewClient returns a client for addr configured by c.
func (c *Config) NewClient(addr string, logger *zap.Logger, opt ...client.Option) *client.Client {
	opts := c.ClientOptions()
	if logger != nil {
		opts = append(opts, client.LoggerOption(logger))
	}
	cl := client.New(addr, append(opts, opt...)...)
	for _, mw := range c.Middlewares(logger) {
		cl.Use(mw)
	}
	return cl
}
