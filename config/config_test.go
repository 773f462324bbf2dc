package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"xrpc/message"
	"xrpc/protocol"
	"xrpc/service"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if *cfg != Default() {
		t.Fatalf("empty document changed defaults: %+v", cfg)
	}
	if cfg.PacketSize != protocol.DefaultPacketSize || cfg.WaitTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParse(t *testing.T) {
	doc := `
packet_size: 1024
worker_pool_size: 8
write_timeout: 5s
wait_timeout: 250ms
wait_pool_size: 16
language: Java
dispatch_timeout: 2s
rate_limit:
  rate: 100
  burst: 10
log_level: debug
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.PacketSize != 1024 || cfg.WorkerPoolSize != 8 || cfg.WaitPoolSize != 16 {
		t.Fatalf("sizes = %+v", cfg)
	}
	if cfg.WriteTimeout != 5*time.Second || cfg.WaitTimeout != 250*time.Millisecond || cfg.DispatchTimeout != 2*time.Second {
		t.Fatalf("timeouts = %+v", cfg)
	}
	if cfg.RateLimit.Rate != 100 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("rate_limit = %+v", cfg.RateLimit)
	}
	if cfg.language() != message.LanguageJava {
		t.Fatalf("language = %v", cfg.language())
	}
	// Untouched fields keep their defaults.
	if cfg.SendBufferSize != Default().SendBufferSize {
		t.Fatalf("send_buffer_size = %d", cfg.SendBufferSize)
	}
	if len(cfg.Middlewares(nil)) != 3 {
		t.Fatalf("expect recover, rate limit and timeout, got %d middlewares", len(cfg.Middlewares(nil)))
	}
}

func TestParseRejects(t *testing.T) {
	docs := map[string]string{
		"unknown field":      "packet_sise: 10",
		"tiny packet":        "packet_size: 16",
		"zero workers":       "worker_pool_size: 0",
		"negative timeout":   "wait_timeout: -1s",
		"unknown language":   "language: Cobol",
		"burst missing":      "rate_limit: {rate: 5}",
		"bad log level":      "log_level: loud",
		"not yaml":           "packet_size: [",
		"negative cache":     "cache_size: -1",
		"negative send size": "send_buffer_size: -2",
	}
	for name, doc := range docs {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), "xrpc.yaml")
	if err := os.WriteFile(name, []byte("wait_timeout: 1s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(name)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WaitTimeout != time.Second {
		t.Fatalf("wait_timeout = %v", cfg.WaitTimeout)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	logger, err := cfg.Logger()
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(-1) || !logger.Core().Enabled(1) {
		t.Fatal("logger level is not warn")
	}
}

type Greeter interface {
	Greet(name string) string
}

type greeter struct{}

func (greeter) Greet(name string) string { return "hello " + name }

func TestNewServerAndClient(t *testing.T) {
	cfg, err := Parse([]byte("packet_size: 512\nwait_timeout: 2s\ndispatch_timeout: 1s\n"))
	if err != nil {
		t.Fatal(err)
	}
	logger := zaptest.NewLogger(t)

	svr := cfg.NewServer(logger)
	if _, err := service.Register[Greeter](svr.Registry(), greeter{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	go svr.Serve(context.Background())
	defer svr.Shutdown(time.Second)

	cl := cfg.NewClient(svr.Addr().String(), logger)
	if err := cl.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	// Larger than one 512-byte packet, so it is split into many fragments.
	name := string(make([]byte, 2000))
	var greeting string
	if err := cl.Call(context.Background(), "Greeter", "Greet", &greeting, name); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if greeting != "hello "+name {
		t.Fatalf("greeting has %d bytes, want %d", len(greeting), len("hello "+name))
	}
}
