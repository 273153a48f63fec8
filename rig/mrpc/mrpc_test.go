package mrpc

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdunlop/wasmrig-go/rig/mrpc/internal/protocol"
	"github.com/swdunlop/wasmrig-go/rig/stage"
	"github.com/tinylib/msgp/msgp"
	"nhooyr.io/websocket"
)

type response struct {
	id, method string
	output     []byte
}

func decodeResponse(t *testing.T, msg []byte) response {
	t.Helper()
	n, msg, err := msgp.ReadArrayHeaderBytes(msg)
	require.NoError(t, err)
	require.Equal(t, uint32(3), n)
	var rsp response
	rsp.id, msg, err = msgp.ReadStringBytes(msg)
	require.NoError(t, err)
	rsp.method, msg, err = msgp.ReadStringBytes(msg)
	require.NoError(t, err)
	rsp.output = msg
	return rsp
}

func (rsp response) report(t *testing.T) stage.Report {
	t.Helper()
	var rep stage.Report
	_, err := rep.UnmarshalMsg(rsp.output)
	require.NoError(t, err)
	return rep
}

func (rsp response) failure(t *testing.T) protocol.Failure {
	t.Helper()
	require.Equal(t, protocol.Fail, rsp.method)
	var f protocol.Failure
	_, err := f.UnmarshalMsg(rsp.output)
	require.NoError(t, err)
	return f
}

// call runs one request through cfg, collecting every response.
func call(t *testing.T, cfg *config, method, function string, input msgp.Raw) []response {
	t.Helper()
	var out []response
	cfg.handler(For(context.Background(), protocol.Request{
		ID: `1`, Method: method, Function: function, Input: input,
	}, func(bin []byte) error {
		out = append(out, decodeResponse(t, bin))
		return nil
	}))
	return out
}

func raw(t *testing.T, v msgp.Marshaler) msgp.Raw {
	t.Helper()
	b, err := v.MarshalMsg(nil)
	require.NoError(t, err)
	return b
}

var nilInput = msgp.Raw(msgp.AppendNil(nil))

func testConfig(options ...Option) *config {
	var cfg config
	cfg.init(append([]Option{
		CallFn(`status`, func(ctx *Scope, _ Nil) (stage.Report, error) {
			return stage.Report{Profile: `debug`, Files: stage.Manifest{{Path: `index.html`, Size: 5}}}, nil
		}),
		CallFn(`echo`, func(ctx *Scope, in stage.Report) (stage.Report, error) {
			if in.Profile == `` {
				return in, errors.New(`no profile`)
			}
			return in, nil
		}),
		StartFn(`count`, func(ctx *Scope, in stage.Report) error {
			for _, file := range in.Files {
				rep := stage.Report{Profile: file.Path}
				if err := ctx.Yield(&rep); err != nil {
					return err
				}
			}
			if in.Err != `` {
				return errors.New(in.Err)
			}
			return nil
		}),
	}, options...)...)
	return &cfg
}

func TestCallFn(t *testing.T) {
	cfg := testConfig()

	out := call(t, cfg, protocol.Call, `status`, nilInput)
	require.Len(t, out, 1)
	assert.Equal(t, `1`, out[0].id)
	assert.Equal(t, protocol.Succ, out[0].method)
	rep := out[0].report(t)
	assert.Equal(t, `debug`, rep.Profile)
	assert.Equal(t, []string{`index.html`}, rep.Files.Paths())

	in := stage.Report{Profile: `release`, Took: time.Second}
	out = call(t, cfg, protocol.Call, `echo`, raw(t, &in))
	require.Len(t, out, 1)
	echo := out[0].report(t)
	assert.Equal(t, in.Profile, echo.Profile)
	assert.Equal(t, in.Took, echo.Took)

	out = call(t, cfg, protocol.Call, `echo`, raw(t, &stage.Report{}))
	require.Len(t, out, 1)
	assert.Equal(t, Failed, out[0].failure(t).Code)

	out = call(t, cfg, protocol.Call, `echo`, msgp.Raw(msgp.AppendString(nil, `release`)))
	require.Len(t, out, 1)
	assert.Equal(t, BadInput, out[0].failure(t).Code)
}

func TestStartFn(t *testing.T) {
	cfg := testConfig()
	in := stage.Report{Files: stage.Manifest{{Path: `a`}, {Path: `b`}}}
	out := call(t, cfg, protocol.Start, `count`, raw(t, &in))
	require.Len(t, out, 3)
	assert.Equal(t, protocol.Yield, out[0].method)
	assert.Equal(t, `a`, out[0].report(t).Profile)
	assert.Equal(t, `b`, out[1].report(t).Profile)
	assert.Equal(t, protocol.End, out[2].method)

	in.Err = `interrupted`
	out = call(t, cfg, protocol.Start, `count`, raw(t, &in))
	require.Len(t, out, 3)
	f := out[2].failure(t)
	assert.Equal(t, Failed, f.Code)
	assert.Equal(t, `interrupted`, f.Msg)
}

func TestDispatchFailures(t *testing.T) {
	cfg := testConfig()
	out := call(t, cfg, protocol.Call, `launch`, nilInput)
	require.Len(t, out, 1)
	assert.Equal(t, NotFound, out[0].failure(t).Code)

	out = call(t, cfg, protocol.Start, `status`, nilInput)
	require.Len(t, out, 1)
	assert.Equal(t, NotFound, out[0].failure(t).Code, `calls cannot be started`)

	out = call(t, cfg, `stop`, `count`, nilInput)
	require.Len(t, out, 1)
	assert.Equal(t, Unsupported, out[0].failure(t).Code)
}

func TestAnswerOnce(t *testing.T) {
	sent := 0
	ctx := For(context.Background(), protocol.Request{ID: `1`}, func([]byte) error {
		sent++
		return nil
	})
	require.NoError(t, ctx.Succ(&Nil{}))
	assert.Error(t, ctx.Yield(&Nil{}))
	assert.Error(t, ctx.Fail(Failed, `late`))
	assert.Equal(t, 1, sent)
	assert.Nil(t, From(context.Background()))
}

func TestUse(t *testing.T) {
	var functions []string
	cfg := testConfig(Use(func(next Handler) Handler {
		return func(ctx *Scope) {
			functions = append(functions, ctx.Function)
			assert.Same(t, ctx, From(ctx))
			next(ctx)
		}
	}))
	call(t, cfg, protocol.Call, `status`, nilInput)
	assert.Equal(t, []string{`status`}, functions)
}

func TestWebSocket(t *testing.T) {
	svr := httptest.NewServer(Handle(
		CallFn(`status`, func(ctx *Scope, _ Nil) (stage.Report, error) {
			return stage.Report{Profile: `debug`}, nil
		}),
		StartFn(`wait`, func(ctx *Scope, _ Nil) error {
			<-ctx.Done()
			return nil
		}),
	))
	defer svr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, `ws`+strings.TrimPrefix(svr.URL, `http`), nil)
	require.NoError(t, err)
	defer c.CloseNow()

	req := protocol.Request{ID: `7`, Method: protocol.Call, Function: `status`}
	bin, err := req.MarshalMsg(nil)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageBinary, bin))
	mt, msg, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, mt)
	rsp := decodeResponse(t, msg)
	assert.Equal(t, `7`, rsp.id)
	assert.Equal(t, `debug`, rsp.report(t).Profile)

	// an open stream must not keep the connection from closing.
	req = protocol.Request{ID: `8`, Method: protocol.Start, Function: `wait`}
	bin, err = req.MarshalMsg(nil)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageBinary, bin))

	require.NoError(t, c.Write(ctx, websocket.MessageBinary, msgp.AppendString(nil, `call`)))
	_, msg, err = c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, BadRequest, decodeResponse(t, msg).failure(t).Code)
	require.NoError(t, c.Close(websocket.StatusNormalClosure, ``))
}
