// Package jrpc implements JSON-RPC 2.0 over WebSockets, which a rig uses to let browsers and editor plugins query and
// control the build.
package jrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig/api"
	"github.com/swdunlop/wasmrig-go/rig/jrpc/internal/protocol"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

// API returns an api.Option that supports RPC requests at the specified route.
func API(route string, options ...Option) api.Option {
	return api.Handle(route, Handle(options...))
}

// ReadLimit specifies the maximum size of a read message.  Defaults to -1 which imposes no limit.
func ReadLimit(limit int64) Option {
	return func(cfg *config) { cfg.readLimit = limit }
}

// Concurrency limits how many requests from one connection are handled at once; further requests wait for one to
// finish.  Defaults to 8.
func Concurrency(n int) Option {
	return func(cfg *config) { cfg.concurrency = n }
}

// AcceptOptions specifies how WebSocket connections are accepted, such as which origins may connect.  Defaults
// to only accepting connections from the same origin.
func AcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(cfg *config) { cfg.accept = opts }
}

// Handle returns a http.Handler that upgrades the connection to a WebSocket and handles RPC requests
// until the connection is closed.
func Handle(options ...Option) http.Handler {
	var cfg config
	cfg.init(options...)
	return &cfg
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

// From returns the scope of the request from a Go context.  May return nil if there is no RPC
// scope in the Go context.
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

// Succ sends a success response to the client.  Notifications are not answered.
func (ctx *Scope) Succ(result any) error {
	return ctx.respond(protocol.Response{Result: result})
}

// Fail sends an error response to the client, see the protocol package for codes.  Notifications are not answered.
func (ctx *Scope) Fail(code int, msg string) error {
	return ctx.respond(protocol.Response{Error: &protocol.Error{Code: code, Message: msg}})
}

var errResponded = errors.New(`response already sent`)

func (ctx *Scope) respond(ret protocol.Response) error {
	if ctx.ID == `` {
		return nil
	}
	if ctx.send == nil {
		return errResponded
	}
	send := ctx.send
	ctx.send = nil
	ret.ID = ctx.ID
	msg, err := json.Marshal(ret)
	if err != nil {
		return fmt.Errorf(`%w while encoding response`, err)
	}
	return send(msg)
}

// An Option affects the rigging of an RPC API.
type Option func(*config)

type config struct {
	handler     Handler
	readLimit   int64
	concurrency int
	accept      *websocket.AcceptOptions
	procs       map[string]Handler // notifications
	calls       map[string]Handler // requests with an ID
}

func (cfg *config) init(options ...Option) {
	cfg.readLimit = -1
	cfg.concurrency = 8
	cfg.handler = cfg.dispatch
	cfg.procs = make(map[string]Handler, len(options))
	cfg.calls = make(map[string]Handler, len(options))
	for _, opt := range options {
		opt(cfg)
	}
}

// ServeHTTP implements http.Handler.
func (cfg *config) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := cfg.serveHTTP(w, r)
	if err != nil {
		hog.For(r).Error().Err(err).Msg(`JSON-RPC error`)
	}
}

func (cfg *config) serveHTTP(w http.ResponseWriter, r *http.Request) error {
	c, err := websocket.Accept(w, r, cfg.accept)
	if err != nil {
		// Accept has already written an error response.
		return err
	}
	defer func() { _ = c.CloseNow() }()
	c.SetReadLimit(cfg.readLimit)
	ctx := r.Context()
	send := func(bin []byte) error {
		return c.Write(ctx, websocket.MessageText, bin)
	}
	handle := cfg.handler

	var group errgroup.Group
	group.SetLimit(cfg.concurrency)
	defer func() { _ = group.Wait() }()
	for {
		mt, msg, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) < 0 {
				return err
			}
			return nil
		}
		if mt != websocket.MessageText {
			_ = c.Close(websocket.StatusUnsupportedData, `requests must be text`)
			return nil
		}
		var req protocol.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			rsp, _ := json.Marshal(protocol.Response{Error: &protocol.Error{
				Code: protocol.ParseError, Message: err.Error(),
			}})
			if err := send(rsp); err != nil {
				return err
			}
			continue
		}
		group.Go(func() error {
			handle(For(ctx, req, send))
			return nil
		})
	}
}

func (cfg *config) dispatch(ctx *Scope) {
	if rpcErr := ctx.Validate(); rpcErr != nil {
		_ = ctx.Fail(rpcErr.Code, rpcErr.Message)
		return
	}
	table := cfg.calls
	if ctx.ID == `` {
		table = cfg.procs
	}
	handler := table[ctx.Method]
	if handler == nil {
		_ = ctx.Fail(protocol.MethodNotFound, fmt.Sprintf(`method %q not found`, ctx.Method))
		return
	}
	handler(ctx)
}

// Proc registers a function that handles notifications of the named method.
func Proc[I any](method string, fn func(*Scope, I)) Option {
	return func(cfg *config) {
		cfg.procs[method] = func(ctx *Scope) {
			var in I
			if err := decode(ctx.Params, &in); err != nil {
				hog.From(ctx).Warn().Err(err).Str(`method`, method).Msg(`could not decode notification`)
				return
			}
			fn(ctx, in)
		}
	}
}

// Fn registers a function that handles requests for the named method.  Errors returned by fn are sent to the
// client as server errors.
func Fn[I, O any](
	method string, fn func(*Scope, I) (O, error),
) Option {
	return func(cfg *config) {
		cfg.calls[method] = func(ctx *Scope) {
			var in I
			if err := decode(ctx.Params, &in); err != nil {
				_ = ctx.Fail(protocol.InvalidParams, fmt.Sprintf(`%v while decoding params`, err))
				return
			}
			out, err := fn(ctx, in)
			if err != nil {
				_ = ctx.Fail(protocol.ServerError, err.Error())
				return
			}
			_ = ctx.Succ(out)
		}
	}
}

// decode unmarshals params into v, leaving v unchanged if params were omitted.
func decode(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == `null` {
		return nil
	}
	return json.Unmarshal(params, v)
}

// A Handler is a function that handles an RPC request.
type Handler func(*Scope)
