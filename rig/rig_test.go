package rig_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig"
	"github.com/swdunlop/wasmrig-go/rig/api"
	"github.com/swdunlop/wasmrig-go/rig/local"
)

func serve(t *testing.T, options ...rig.Option) (*rig.Config, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan net.Addr, 1)
	options = append(options, local.Rig(
		local.TCP(`127.0.0.1:0`),
		local.Ready(func(addr net.Addr) { addrCh <- addr }),
	))
	cfg, err := rig.New(options...)
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- cfg.Serve(ctx, ``) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})
	select {
	case addr := <-addrCh:
		return cfg, `http://` + addr.String()
	case err := <-errCh:
		t.Fatalf(`serve failed: %v`, err)
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for the listener`)
	}
	return nil, ``
}

func TestServeHandlers(t *testing.T) {
	cfg, base := serve(t, api.Rig(
		api.Use(hog.Middleware()),
		api.HandleFunc(`GET /hello`, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `hello`)
		}),
	))

	rsp, err := http.Get(base + `/hello`)
	require.NoError(t, err)
	defer rsp.Body.Close()
	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, `hello`, string(body))

	assert.Error(t, cfg.Apply(rig.Announce()), `options cannot change a serving rig`)
	assert.NoError(t, cfg.Publish(`build`, `ignored`), `publishing without Announce does nothing`)

	rsp, err = http.Get(base + rig.BuildPath)
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
}

func TestAnnounce(t *testing.T) {
	cfg, base := serve(t, rig.Announce())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			_ = cfg.Publish(`build`, map[string]string{`profile`: `debug`})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, `GET`, base+rig.BuildPath, nil)
	require.NoError(t, err)
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	assert.Contains(t, rsp.Header.Get(`Content-Type`), `text/event-stream`)

	var event, data string
	scanner := bufio.NewScanner(rsp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, `event: `); ok {
			event = v
		} else if v, ok := strings.CutPrefix(line, `data: `); ok {
			data = v
		} else if line == `` && data != `` {
			break
		}
	}
	assert.Equal(t, `build`, event)
	assert.JSONEq(t, `{"profile":"debug"}`, data)
}

func TestServeWithoutListener(t *testing.T) {
	cfg, err := rig.New()
	require.NoError(t, err)
	assert.Error(t, cfg.Serve(context.Background(), ``))
}

type serverSpy chan *http.Server

func (spy serverSpy) RigServer(svr *http.Server) { spy <- svr }

func TestServerTimeouts(t *testing.T) {
	spy := make(serverSpy, 1)
	serve(t, func(cfg *rig.Config) error {
		cfg.Hook(spy)
		return nil
	})
	svr := <-spy
	assert.Equal(t, rig.ReadHeaderTimeout, svr.ReadHeaderTimeout)
	assert.Equal(t, rig.IdleTimeout, svr.IdleTimeout)
	assert.Zero(t, svr.WriteTimeout, `streams are not cut off`)
}
