// Package mrpc implements RPC using MessagePack over WebSockets for clients that would rather not parse JSON, such as
// an editor plugin or the game itself.  Besides calls with one answer, it supports streams that yield any number of
// outputs until the function returns.
package mrpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig/api"
	"github.com/swdunlop/wasmrig-go/rig/mrpc/internal/protocol"
	"github.com/tinylib/msgp/msgp"
	"nhooyr.io/websocket"
)

// Failure codes sent by the framework; functions choose their own.
const (
	BadRequest  = 400
	NotFound    = 404
	BadInput    = 406
	Failed      = 500
	Unsupported = 501
)

// API returns an api.Option that supports RPC requests at the specified route.
func API(route string, options ...Option) api.Option {
	return api.Handle(route, Handle(options...))
}

// Handle returns a http.Handler that upgrades the connection to a WebSocket and handles RPC requests
// until the connection is closed.
func Handle(options ...Option) http.Handler {
	var cfg config
	cfg.init(options...)
	return &cfg
}

// ReadLimit specifies the maximum size of a read message.  Defaults to -1 which imposes no limit.
func ReadLimit(limit int64) Option {
	return func(cfg *config) { cfg.readLimit = limit }
}

// Use specifies middleware that is applied to all requests.
func Use(fn func(Handler) Handler) Option {
	return func(cfg *config) {
		cfg.handler = fn(cfg.handler)
	}
}

// For creates a new scope for the given request and send function.  Generally this is not necessary but it can
// be useful for testing.
func For(ctx context.Context, req protocol.Request, send func(bin []byte) error) *Scope {
	self := &Scope{Context: ctx, Request: req, send: send}
	self.Context = context.WithValue(ctx, ctxKey{}, self)
	return self
}

// From returns the scope of the request from a Go context.  May return nil if there is no RPC scope in the Go
// context.
func From(ctx context.Context) *Scope {
	rcx, _ := ctx.Value(ctxKey{}).(*Scope)
	return rcx
}

type ctxKey struct{}

// A Scope describes the scope of an RPC request.
type Scope struct {
	context.Context
	protocol.Request
	send func(bin []byte) error
}

var errEnded = errors.New(`request already answered`)

// Succ answers a call.
func (ctx *Scope) Succ(output msgp.MarshalSizer) error {
	err := ctx.respond(protocol.Succ, output)
	ctx.send = nil
	return err
}

// Yield sends one output of a stream.
func (ctx *Scope) Yield(output msgp.MarshalSizer) error { return ctx.respond(protocol.Yield, output) }

// End ends a stream.  No more responses may be sent after this.
func (ctx *Scope) End() error {
	err := ctx.respond(protocol.End, nil)
	ctx.send = nil
	return err
}

// Fail answers a call or ends a stream with a failure.  No more responses may be sent after this.
func (ctx *Scope) Fail(code int, msg string) error {
	err := ctx.respond(protocol.Fail, &protocol.Failure{Code: code, Msg: msg})
	ctx.send = nil
	return err
}

func (ctx *Scope) respond(method string, output msgp.MarshalSizer) error {
	if ctx.send == nil {
		return errEnded
	}
	rsp := protocol.Response{ID: ctx.ID, Method: method, Output: output}
	msg, err := rsp.MarshalMsg(make([]byte, 0, rsp.Msgsize()))
	if err != nil {
		return fmt.Errorf(`%w while encoding response`, err)
	}
	return ctx.send(msg)
}

// An Option affects the rigging of an RPC API.
type Option func(*config)

type config struct {
	handler   Handler
	readLimit int64
	calls     map[string]Handler
	starts    map[string]Handler
}

func (cfg *config) init(options ...Option) {
	cfg.readLimit = -1
	cfg.handler = cfg.dispatch
	cfg.calls = make(map[string]Handler, len(options))
	cfg.starts = make(map[string]Handler, len(options))
	for _, opt := range options {
		opt(cfg)
	}
}

// ServeHTTP implements http.Handler.
func (cfg *config) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := cfg.serveHTTP(w, r)
	if err != nil {
		hog.For(r).Error().Err(err).Msg(`MRPC error`)
	}
}

func (cfg *config) serveHTTP(w http.ResponseWriter, r *http.Request) error {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.CloseNow() }()
	c.SetReadLimit(cfg.readLimit)
	handle := cfg.handler

	// streams run until the client goes away, so requests are not limited like JSON-RPC calls.
	var group sync.WaitGroup
	defer group.Wait()
	// a hijacked request's context outlives its client, streams must be stopped before waiting for them.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	send := func(bin []byte) error {
		return c.Write(ctx, websocket.MessageBinary, bin)
	}
	for {
		mt, msg, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) < 0 {
				return err
			}
			return nil
		}
		if mt != websocket.MessageBinary {
			_ = c.Close(websocket.StatusUnsupportedData, `requests must be binary`)
			return nil
		}
		var req protocol.Request
		if _, err := req.UnmarshalMsg(msg); err != nil {
			_ = For(ctx, req, send).Fail(BadRequest, fmt.Sprintf(`%v while decoding request`, err))
			continue
		}
		group.Add(1)
		go func() {
			defer group.Done()
			handle(For(ctx, req, send))
		}()
	}
}

func (cfg *config) dispatch(ctx *Scope) {
	var table map[string]Handler
	switch ctx.Method {
	case protocol.Call:
		table = cfg.calls
	case protocol.Start:
		table = cfg.starts
	default:
		_ = ctx.Fail(Unsupported, fmt.Sprintf(`method %q not supported`, ctx.Method))
		return
	}
	handler := table[ctx.Function]
	if handler == nil {
		_ = ctx.Fail(NotFound, fmt.Sprintf(`function %q not found`, ctx.Function))
		return
	}
	handler(ctx)
}

// CallFn registers a function that answers "call" requests with one output.  Errors returned by fn are sent as
// failures.
func CallFn[I any, PI interface {
	*I
	msgp.Unmarshaler
}, O any, PO interface {
	*O
	msgp.MarshalSizer
}](function string, fn func(*Scope, I) (O, error)) Option {
	return func(cfg *config) {
		cfg.calls[function] = func(ctx *Scope) {
			in := PI(new(I))
			if _, err := in.UnmarshalMsg(ctx.Input); err != nil {
				_ = ctx.Fail(BadInput, fmt.Sprintf(`%v while decoding input`, err))
				return
			}
			out, err := fn(ctx, *in)
			if err != nil {
				_ = ctx.Fail(Failed, err.Error())
				return
			}
			_ = ctx.Succ(PO(&out))
		}
	}
}

// StartFn registers a function that answers "start" requests with a stream.  The function calls ctx.Yield for each
// output and should not call ctx.Succ, ctx.Fail or ctx.End; the stream is ended or failed when it returns.
func StartFn[I any, PI interface {
	*I
	msgp.Unmarshaler
}](function string, fn func(*Scope, I) error) Option {
	return func(cfg *config) {
		cfg.starts[function] = func(ctx *Scope) {
			in := PI(new(I))
			if _, err := in.UnmarshalMsg(ctx.Input); err != nil {
				_ = ctx.Fail(BadInput, fmt.Sprintf(`%v while decoding input`, err))
				return
			}
			if err := fn(ctx, *in); err != nil {
				_ = ctx.Fail(Failed, err.Error())
				return
			}
			_ = ctx.End()
		}
	}
}

// A Handler is a function that handles an RPC request.
type Handler func(*Scope)

// Nil is the input or output of a function that needs none.  It accepts any input.
type Nil struct{}

// UnmarshalMsg implements msgp.Unmarshaler.
func (*Nil) UnmarshalMsg(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return b, nil
	}
	return msgp.Skip(b)
}

// MarshalMsg implements msgp.Marshaler.
func (*Nil) MarshalMsg(b []byte) ([]byte, error) { return msgp.AppendNil(b), nil }

// Msgsize implements msgp.Sizer.
func (*Nil) Msgsize() int { return msgp.NilSize }
