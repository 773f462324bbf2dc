// Package peer runs the RPC protocol over one connection.
//
// Both ends of a connection are peers: either may call the other. A call
// moves through these states:
//
//	caller:  Sent ──→ AwaitingResponse ──→ Resolved | TimedOut | NetworkError
//	callee:  Received ──→ Dispatched ──→ Responded
//
// Outgoing packets are encoded as JSON envelopes, passed through the
// Cipher, split into fragments and handed to the Sender. Incoming data is
// parsed as fragments and reassembled; complete requests are dispatched to
// the service registry, complete responses are handed to the correlation
// bridge.
package peer

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"xrpc/codec"
	"xrpc/convert"
	"xrpc/fragment"
	"xrpc/message"
	"xrpc/middleware"
	"xrpc/protocol"
	"xrpc/proxy"
	"xrpc/rpcerr"
	"xrpc/service"
	"xrpc/transport"
)

// DefaultWaitTimeout is how long a call waits for its response.
const DefaultWaitTimeout = 10 * time.Second

// maxTagAttempts bounds the retries when a random tag is already pending.
const maxTagAttempts = 4

// Sender writes one packet to the connection.
type Sender interface {
	Send(data []byte) error
	// PacketSize is the largest packet the connection carries, header
	// included.
	PacketSize() int
}

// Cipher transforms envelope bytes on their way out and back in. The
// default leaves them unchanged.
type Cipher interface {
	Seal(data []byte) ([]byte, error)
	Open(data []byte) ([]byte, error)
}

type plain struct{}

func (plain) Seal(data []byte) ([]byte, error) { return data, nil }
func (plain) Open(data []byte) ([]byte, error) { return data, nil }

// Events are optional callbacks for the peer's connection lifecycle.
type Events struct {
	OnConnected    func(p *Peer)
	OnDisconnected func(p *Peer)
	OnException    func(p *Peer, err error)
}

// Config configures a Peer. Every field but Language has a usable zero
// value.
type Config struct {
	// Language is the language this peer reports in its envelopes.
	// Go peers set message.LanguageGo.
	Language message.Language
	// Converters reconcile names used by remote peers.
	Converters convert.Config
	// Registry holds the services this peer exposes. Nil exposes none.
	Registry *service.Registry
	// Middlewares wrap the dispatch of incoming requests.
	Middlewares []middleware.Middleware
	// WaitTimeout bounds each call. Zero waits until the context is done.
	WaitTimeout time.Duration
	// PoolSize bounds the number of concurrent calls. Zero is unbounded.
	PoolSize int
	Cipher   Cipher
	Logger   *zap.Logger
	Events   Events
}

// Peer is the protocol state of one connection.
type Peer struct {
	sender    Sender
	cfg       Config
	bridge    *transport.Bridge
	assembler *fragment.Assembler
	handler   middleware.HandlerFunc
	logger    *zap.Logger

	ctx    context.Context // cancelled on disconnect; passed to dispatched methods
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight int           // requests being dispatched
	idle     chan struct{} // closed when inflight drops to zero; nil while idle
}

// New returns a Peer sending through sender. The caller feeds received
// data to HandleData and reports the connection lifecycle through
// Connected and Disconnected.
func New(sender Sender, cfg Config) *Peer {
	if cfg.Converters == nil {
		cfg.Converters = convert.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = service.NewRegistry(0)
	}
	if cfg.Cipher == nil {
		cfg.Cipher = plain{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Peer{
		sender:    sender,
		cfg:       cfg,
		bridge:    transport.NewBridge(cfg.PoolSize),
		assembler: fragment.NewAssembler(),
		logger:    cfg.Logger,
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.handler = middleware.Chain(cfg.Middlewares...)(p.serve)
	return p
}

// Language returns the language this peer reports.
func (p *Peer) Language() message.Language {
	return p.cfg.Language
}

// Connected reports that the connection is up.
func (p *Peer) Connected() {
	if p.cfg.Events.OnConnected != nil {
		p.cfg.Events.OnConnected(p)
	}
}

// Disconnected reports that the connection is gone. Every pending call
// fails with a network error.
func (p *Peer) Disconnected() {
	p.cancel()
	if n := p.bridge.Abort(); n > 0 {
		p.logger.Info("aborted pending calls", zap.Int("count", n))
	}
	if p.cfg.Events.OnDisconnected != nil {
		p.cfg.Events.OnDisconnected(p)
	}
}

// Exception reports a connection failure.
func (p *Peer) Exception(err error) {
	p.logger.Error("connection exception", zap.Error(err))
	if p.cfg.Events.OnException != nil {
		p.cfg.Events.OnException(p, err)
	}
}

// Wait blocks until every request being dispatched has been answered.
// Requests arriving while Wait blocks extend the wait.
func (p *Peer) Wait() {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	if idle != nil {
		<-idle
	}
}

func (p *Peer) begin() {
	p.mu.Lock()
	if p.inflight == 0 {
		p.idle = make(chan struct{})
	}
	p.inflight++
	p.mu.Unlock()
}

func (p *Peer) done() {
	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 {
		close(p.idle)
		p.idle = nil
	}
	p.mu.Unlock()
}

// Pending returns the number of calls awaiting a response.
func (p *Peer) Pending() int {
	return p.bridge.Len()
}

// Resolve fills target, a pointer to a struct of function fields, with
// stubs calling the remote service typeName. See package proxy.
func (p *Peer) Resolve(target any, typeName string) error {
	return proxy.Build(target, typeName, p)
}

// Call invokes method of the remote service typeName with args and decodes
// the result into result, which must be a pointer or nil. Pointer
// arguments receive the callee's out values.
func (p *Peer) Call(ctx context.Context, typeName, method string, result any, args ...any) error {
	m := &proxy.Method{Type: typeName, Name: method}
	for i, a := range args {
		if a == nil {
			return errors.Errorf("peer: argument %d of %s.%s is nil", i, typeName, method)
		}
		m.In = append(m.In, reflect.TypeOf(a))
	}
	var rv reflect.Value
	if result != nil {
		rv = reflect.ValueOf(result)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return errors.Errorf("peer: result must be a non-nil pointer, got %T", result)
		}
		m.Out = rv.Type().Elem()
	}

	res, err := p.Invoke(ctx, m, args)
	if err != nil {
		return err
	}
	if res != nil && rv.IsValid() {
		rv.Elem().Set(reflect.ValueOf(res))
	}
	return nil
}

// Invoke performs one remote call. It implements proxy.Invoker.
func (p *Peer) Invoke(ctx context.Context, m *proxy.Method, args []any) (any, error) {
	local, ok := p.cfg.Converters.For(p.cfg.Language)
	if !ok {
		return nil, errors.Errorf("peer: no converters for %v", p.cfg.Language)
	}
	if len(args) != len(m.In) {
		return nil, errors.Errorf("peer: %s.%s takes %d arguments, got %d", m.Type, m.Name, len(m.In), len(args))
	}

	params := make([]message.Parameter, len(args))
	for i, a := range args {
		value, err := codec.Default.Encode(a)
		if err != nil {
			return nil, errors.Wrapf(err, "peer: encode argument %d of %s.%s", i, m.Type, m.Name)
		}
		params[i] = message.Parameter{Type: local.Type.Name(m.In[i]), Value: value}
	}

	resp, err := p.roundTrip(ctx, message.NewRequest(p.cfg.Language, m.Type, m.Name, params))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, rpcerr.FromEnvelope(resp.Error)
	}

	p.copyOut(m, args, resp)

	if m.Out == nil {
		return nil, nil
	}
	out := reflect.New(m.Out)
	if len(resp.Result) > 0 {
		if err := codec.Default.Decode(resp.Result, out.Interface()); err != nil {
			return nil, rpcerr.Parse(errors.Wrapf(err, "result of %s.%s", m.Type, m.Name))
		}
	}
	return out.Elem().Interface(), nil
}

// copyOut writes the callee's values of pointer parameters back into args
// whose types the callee names the same way.
func (p *Peer) copyOut(m *proxy.Method, args []any, resp *message.Response) {
	remote, ok := p.cfg.Converters.For(resp.Language)
	if !ok {
		return
	}
	for i, t := range m.In {
		if t.Kind() != reflect.Pointer || i >= len(resp.Parameters) {
			continue
		}
		rp := resp.Parameters[i]
		if len(rp.Value) == 0 || !remote.Type.Equal(t, rp.Type) || reflect.ValueOf(args[i]).IsNil() {
			continue
		}
		if err := codec.Default.Decode(rp.Value, args[i]); err != nil {
			p.logger.Warn("dropping out parameter", zap.Int("index", i), zap.Error(err))
		}
	}
}

// roundTrip sends req and waits for its response.
func (p *Peer) roundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	data, err := codec.Default.Encode(req)
	if err != nil {
		return nil, errors.Wrap(err, "peer: encode request")
	}

	var (
		tag int64
		w   *transport.Wait
	)
	for attempt := 0; ; attempt++ {
		tag = message.NewTag()
		w, err = p.bridge.Begin(ctx, tag)
		if err == nil {
			break
		}
		if !errors.Is(err, transport.ErrTagInUse) || attempt == maxTagAttempts {
			return nil, err
		}
	}
	defer p.bridge.End(w)

	logger := p.logger.With(zap.Int64("tag", tag), zap.String("type", req.Type), zap.String("method", req.Method))
	if err := p.send(message.KindRequest, tag, data); err != nil {
		logger.Warn("request not sent", zap.Error(err))
		e := rpcerr.Network()
		e.Message = "failed to send request"
		e.Cause = rpcerr.Chain(err)
		return nil, e
	}
	logger.Debug("request sent", zap.Int("bytes", len(data)))

	respData, err := w.Block(ctx, p.cfg.WaitTimeout)
	if err != nil {
		logger.Debug("call failed", zap.Error(err))
		return nil, err
	}

	var resp message.Response
	if err := codec.Default.Decode(respData, &resp); err != nil {
		logger.Warn("malformed response", zap.Int("bytes", len(respData)), zap.Error(err))
		e := rpcerr.Network()
		e.Cause = rpcerr.Chain(err)
		return nil, e
	}
	return &resp, nil
}

// send seals data, fragments it to fit the sender's packets and sends
// every fragment.
func (p *Peer) send(kind message.Kind, tag int64, data []byte) error {
	sealed, err := p.cfg.Cipher.Seal(data)
	if err != nil {
		return errors.Wrap(err, "peer: seal")
	}
	chunk := min(fragment.Size, protocol.MaxPayload(p.sender.PacketSize())-fragment.Overhead)
	frags, err := fragment.Split(kind, tag, sealed, chunk)
	if err != nil {
		return err
	}
	for _, f := range frags {
		b, err := f.Bytes()
		if err != nil {
			return err
		}
		if err := p.sender.Send(b); err != nil {
			return errors.Wrapf(err, "peer: send fragment %d/%d", f.Index+1, f.Total)
		}
	}
	return nil
}

// HandleData consumes one received packet payload.
func (p *Peer) HandleData(data []byte) {
	f, ok := fragment.Parse(data)
	if !ok {
		p.logger.Warn("dropping malformed fragment", zap.Int("bytes", len(data)))
		return
	}
	if !p.assembler.Push(f) {
		p.logger.Warn("dropping inconsistent fragment", zap.Int("index", f.Index), zap.Int("total", f.Total))
		return
	}
	for {
		pkt, ok := p.assembler.Pull()
		if !ok {
			return
		}
		p.handlePacket(pkt)
	}
}

func (p *Peer) handlePacket(pkt message.Packet) {
	logger := p.logger.With(zap.Int64("tag", pkt.Tag), zap.Stringer("kind", pkt.Kind))

	data, err := p.cfg.Cipher.Open(pkt.Data)
	if err != nil {
		logger.Warn("cannot open packet", zap.Error(err))
		data = nil
	}

	switch pkt.Kind {
	case message.KindRequest:
		p.begin()
		defer p.done()
		var resp *message.Response
		if err != nil {
			resp = middleware.ErrorResponse(rpcerr.System("cannot open request", err))
		} else {
			resp = p.dispatch(data)
		}
		p.respond(logger, pkt.Tag, resp)

	case message.KindResponse:
		if !p.bridge.Resolve(pkt.Tag, data) {
			logger.Debug("dropping unmatched response")
		}
	}
}

func (p *Peer) dispatch(data []byte) *message.Response {
	var req message.Request
	if err := codec.Default.Decode(data, &req); err != nil {
		return middleware.ErrorResponse(rpcerr.Parse(err))
	}
	return p.handler(p.ctx, &req)
}

// fallbackResponse is sent when a response cannot be encoded at all.
var fallbackResponse = []byte(`{"ver":"3","client":"Go","error":{"code":-32400,"message":"failed to encode response"}}`)

func (p *Peer) respond(logger *zap.Logger, tag int64, resp *message.Response) {
	if resp == nil {
		resp = middleware.ErrorResponse(rpcerr.System("no response produced", nil))
	}
	resp.Language = p.cfg.Language
	data, err := codec.Default.Encode(resp)
	if err != nil {
		logger.Error("cannot encode response", zap.Error(err))
		data, err = codec.Default.Encode(middleware.ErrorResponse(rpcerr.System("failed to encode response", err)))
		if err != nil {
			data = fallbackResponse
		}
	}
	if err := p.send(message.KindResponse, tag, data); err != nil {
		logger.Warn("response not sent", zap.Error(err))
		p.Exception(errors.Wrapf(err, "peer: respond to tag %d", tag))
	}
}

// serve is the innermost dispatch handler.
func (p *Peer) serve(ctx context.Context, req *message.Request) *message.Response {
	conv, ok := p.cfg.Converters.For(req.Language)
	if !ok {
		return middleware.ErrorResponse(rpcerr.System("unsupported client language "+req.Language.String(), nil))
	}
	svc, ok := p.cfg.Registry.Lookup(req.Type)
	if !ok {
		return middleware.ErrorResponse(rpcerr.TypeNotFound(req.Type))
	}
	types := make([]string, len(req.Parameters))
	for i, param := range req.Parameters {
		types[i] = param.Type
	}
	m, err := svc.Resolve(req.Language, conv, req.Method, types)
	if err != nil {
		return middleware.ErrorResponse(asError(err))
	}

	local, _ := p.cfg.Converters.For(p.cfg.Language)
	typeNames := local.Type
	if typeNames == nil {
		typeNames = convert.Go
	}
	res, err := svc.Invoke(ctx, m, req.Parameters, typeNames)
	if err != nil {
		return middleware.ErrorResponse(asError(err))
	}
	return &message.Response{
		Version:    message.Version,
		Language:   p.cfg.Language,
		Result:     res.Value,
		Parameters: res.Params,
	}
}

func asError(err error) *rpcerr.Error {
	var e *rpcerr.Error
	if errors.As(err, &e) {
		return e
	}
	return rpcerr.System("dispatch failed", err)
}
